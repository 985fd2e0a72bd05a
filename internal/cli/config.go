// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Settings commands.
//
// Examples:
//
//	tinychat config show
//	tinychat config show model.common.defaultModel
//	tinychat config set session.sortType createTimeDesc
//	tinychat config set-token chatgpt sk-...
//	tinychat config set-token wenxin <api-key> <api-secret>
//	tinychat config export > settings.toml
//	tinychat config import settings.toml
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/config"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change settings",
		Long: `Show and change the settings stored in setting.json.

Credentials are masked in every output unless --secrets is given to
export. Keys use dot notation, for example model.common.defaultModel.`,
	}
	cmd.AddCommand(
		configShowCmd(g),
		configSetCmd(g),
		configSetTokenCmd(g),
		configExportCmd(g),
		configImportCmd(g),
		configPathCmd(g),
	)
	return cmd
}

func configShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Print all settings, or the value of one key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.settings()
			if err != nil {
				return err
			}
			s := store.Get().Redacted()
			if len(args) == 0 {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			v, err := s.Lookup(args[0])
			if err != nil {
				return usageErr(err.Error(), "tinychat config show model.common.defaultModel")
			}
			if str, ok := v.(string); ok {
				fmt.Fprintln(cmd.OutOrStdout(), str)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
}

func configSetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.settings()
			if err != nil {
				return err
			}
			next, err := store.Get().With(args[0], args[1])
			if err != nil {
				return usageErr(err.Error(), "tinychat config set session.sortType createTimeDesc")
			}
			if _, err := store.Set(next); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Set"), args[0])
			return nil
		},
	}
}

func configSetTokenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <chatgpt|wenxin> <token|api-key> [api-secret]",
		Short: "Store provider credentials",
		Long: `Store provider credentials.

chatgpt takes an API token. wenxin takes an API key and secret, which are
exchanged for an access token on first use.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			var apply func(*config.Settings)

			switch provider {
			case config.ProviderChatGPT:
				if len(args) != 2 {
					return usageErr("chatgpt takes a single token", "tinychat config set-token chatgpt sk-...")
				}
				apply = func(s *config.Settings) { s.Model.ChatGPT.Token = args[1] }
			case config.ProviderWenXin:
				if len(args) != 3 {
					return usageErr("wenxin takes an API key and an API secret", "tinychat config set-token wenxin <api-key> <api-secret>")
				}
				apply = func(s *config.Settings) {
					s.Model.WenXin.APIKey = args[1]
					s.Model.WenXin.APISecret = args[2]
					s.Model.WenXin.AccessToken = ""
				}
			default:
				return usageErr("unknown provider "+args[0], "tinychat config set-token chatgpt sk-...")
			}

			store, err := g.settings()
			if err != nil {
				return err
			}
			if _, err := store.Update(apply); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s credentials saved\n", RenderConditional(SuccessStyle, "OK"), provider)
			return nil
		},
	}
}

func configExportCmd(g *globalFlags) *cobra.Command {
	var secrets bool
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the settings as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.settings()
			if err != nil {
				return err
			}
			s := store.Get()
			if !secrets {
				s = s.Redacted()
			}

			if len(args) == 0 {
				return config.ExportTOML(cmd.OutOrStdout(), s)
			}
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			if err := config.ExportTOML(f, s); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings exported to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&secrets, "secrets", false, "include credentials in clear text")
	return cmd
}

func configImportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the settings with a TOML file",
		Long: `Replace the settings with a TOML file written by export.

Masked credentials in the file keep their current values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := config.ImportTOML(args[0])
			if err != nil {
				return err
			}
			store, err := g.settings()
			if err != nil {
				return err
			}
			if _, err := store.Set(next.WithSecretsFrom(store.Get())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s settings imported from %s\n", RenderConditional(SuccessStyle, "OK"), args[0])
			return nil
		},
	}
}

func configPathCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := g.dir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.SettingPath(dir))
			return nil
		},
	}
}
