// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/actions/email"
	"github.com/elena-cav/stepflow/pkg/actions/httppost"
	logaction "github.com/elena-cav/stepflow/pkg/actions/log"
	"github.com/elena-cav/stepflow/pkg/actions/publish"
	"github.com/elena-cav/stepflow/pkg/actions/status"
	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/registry"
)

// SMTPConfig configures the email action. An empty Addr selects the dry-run sender.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

func newSender(config SMTPConfig, logger *slog.Logger) email.Sender {
	if config.Addr == "" {
		return &email.LogSender{Logger: logger.With("module", "email_sender")}
	}

	return &email.SMTPSender{
		Addr:     config.Addr,
		From:     config.From,
		Username: config.Username,
		Password: config.Password,
	}
}

func registerNativeActions(reg *registry.Registry, publisher eventbus.EventPublisher, sender email.Sender) {
	reg.RegisterAction(httppost.NewActionFactory())
	reg.RegisterAction(email.NewActionFactory(sender))
	reg.RegisterAction(publish.NewActionFactory(publisher, nil))
	reg.RegisterAction(status.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
}

// NewRegistry registers the native actions and any plugins found under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string, publisher eventbus.EventPublisher, smtp SMTPConfig) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	if pluginsPath != "" {
		err := reg.LoadActionPlugins(pluginsPath)
		if err != nil {
			return nil, err
		}
	}

	registerNativeActions(reg, publisher, newSender(smtp, logger))

	return reg, nil
}
