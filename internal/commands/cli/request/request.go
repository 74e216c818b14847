// Package request provides the command that sends a web request to a running node.
package request

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/config"
	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	method    string
	sessionID string
	form      []string
	timeout   time.Duration
	showMeta  bool
)

// NewRequestCommand creates the request command.
func NewRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request PATH",
		Short: "Send a request to a running node",
		Long:  `Send a web request over the node transport and print the rendered response.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runRequest,
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "request method")
	cmd.Flags().StringVar(&sessionID, "session", "", "session identifier")
	cmd.Flags().StringArrayVarP(&form, "form", "F", nil, "form value as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVarP(&showMeta, "include", "i", false, "print status and headers")

	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	values, err := parseForm(form)
	if err != nil {
		return err
	}

	client := server.Dial(config.Get().Address(), timeout)
	defer client.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out, err := client.HandleWebRequest(ctx, dispatch.Inbound{
		Path:      args[0],
		Method:    method,
		Form:      values,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if showMeta {
		cmd.Printf("Status: %d\n", out.Status)
		cmd.Printf("Content-Type: %s\n", out.ContentType)
		if out.Owner != "" {
			cmd.Printf("Plugin: %s\n", out.Owner)
		}
		cmd.Printf("Session: %s\n\n", out.SessionID)
	}
	_, err = cmd.OutOrStdout().Write(out.Body)

	return err
}

// parseForm converts key=value pairs into form values.
func parseForm(pairs []string) (url.Values, error) {
	values := make(url.Values)
	for _, p := range pairs {
		q, err := url.ParseQuery(p)
		if err != nil {
			return nil, fmt.Errorf("invalid form value %q: %w", p, err)
		}
		for k, vs := range q {
			values[k] = append(values[k], vs...)
		}
	}

	return values, nil
}
