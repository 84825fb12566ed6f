/*
 Copyright 2023 NanaFS Authors.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/basenana/phenfs/cmd/apps/apis"
	configapp "github.com/basenana/phenfs/cmd/apps/config"
	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/changelog"
	"github.com/basenana/phenfs/pkg/core"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
	"github.com/basenana/phenfs/utils/metrics"
)

var (
	resolveLevels int
	resolveDump   bool
)

func init() {
	RootCmd.AddCommand(daemonCmd)
	RootCmd.AddCommand(resolveCmd)
	RootCmd.AddCommand(changelogCmd)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(configapp.RunCmd)

	changelogCmd.AddCommand(changelogListCmd)
	changelogCmd.AddCommand(changelogShowCmd)
}

var RootCmd = &cobra.Command{
	Use:   "phenfs",
	Short: "phenfs path engine",
	Long:  `Content addressed folder trees shared between identities.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&config.FilePath, "config", path.Join(config.LocalUserPath(), config.DefaultConfigBase), "phenfs config file")
	resolveCmd.Flags().IntVar(&resolveLevels, "levels", 0, "ancestor levels walked through their folders")
	resolveCmd.Flags().BoolVar(&resolveDump, "dump", false, "dump the whole resolved chain")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.NewConfigLoader().GetConfig()
	if err != nil {
		return cfg, err
	}
	if cfg.Debug {
		logger.SetDebug(cfg.Debug)
	}
	return cfg, nil
}

var daemonCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start server service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			panic(err)
		}
		if err = metrics.InitSentry(config.VersionInfo().Version()); err != nil {
			panic(err)
		}
		defer metrics.FlushSentry()

		session, err := core.New(cfg)
		if err != nil {
			panic(err)
		}
		run(session, cfg, utils.HandleTerminalSignal())
	},
}

func run(session *core.Session, cfg config.Config, stopCh chan struct{}) {
	log := logger.NewLogger("phenfs")
	log.Info("starting")
	if err := session.Startup(context.Background()); err != nil {
		log.Panicw("start session failed", "err", err.Error())
	}
	shutdown := session.SetupShutdownHandler(stopCh)

	if cfg.Api.Enable {
		s, err := apis.NewApiServer(session, cfg.Api)
		if err != nil {
			log.Panicw("init http server failed", "err", err.Error())
		}
		go s.Run(stopCh)
	}

	log.Infow("started", "idhash", session.Identity().String())
	<-shutdown
	log.Info("stopped")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve a path and print its chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// a running server holds the change log lock
		cfg.ChangeLog.Enable = false

		session, err := core.New(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer session.Shutdown(ctx)

		chain, err := session.Traverse(ctx, args[0], resolveLevels, false)
		if err != nil {
			return err
		}
		if resolveDump {
			spew.Fdump(cmd.OutOrStdout(), chain)
			return nil
		}
		raw, err := json.MarshalIndent(apis.NewChainInfo(chain), "", "    ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Inspect change log segments",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var changelogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change log segments, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		segments, err := changelog.ListSegments(cfg.ChangeLog.Dir)
		if err != nil {
			return err
		}
		for _, seg := range segments {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", seg.Start.Format("2006-01-02T15:04:05.000Z07:00"), filepath.Base(seg.Path))
		}
		return nil
	},
}

var changelogShowCmd = &cobra.Command{
	Use:   "show <segment>",
	Short: "Print the entries of one segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		segPath := args[0]
		if !filepath.IsAbs(segPath) {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			segPath = filepath.Join(cfg.ChangeLog.Dir, segPath)
		}
		entries, err := changelog.ReadSegment(segPath)
		if err != nil {
			return err
		}
		for _, en := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), en.String())
		}
		return nil
	},
}
