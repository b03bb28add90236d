/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

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
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/gospectral/utils"
)

var (
	cfgFile  string
	profiler interface{ Stop() }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gospectral",
	Short: "Spectral Galerkin solvers for linear model problems",
	Long: `
Solves Poisson, Helmholtz, biharmonic and Stokes problems with global spectral
bases on tensor product domains, distributed over in-process ranks.

gospectral solve -I problem.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		var l *zap.Logger
		if l, err = utils.NewLogger(viper.GetString("logLevel")); err != nil {
			return fmt.Errorf("log level %q: %w", viper.GetString("logLevel"), err)
		}
		utils.SetLogger(l)
		if used := viper.ConfigFileUsed(); used != "" {
			l.Debug("using config file", zap.String("file", used))
		}
		mode, _ := cmd.Flags().GetString("profile")
		profiler, err = startProfile(mode)
		return
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
		}
		_ = utils.Logger().Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gospectral.yaml)")
	rootCmd.PersistentFlags().String("logLevel", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Float64("condThreshold", utils.DefaultCondThreshold, "condition number reported as ill-conditioned")
	rootCmd.PersistentFlags().IntP("procs", "p", 0, "number of in-process ranks (0 takes the problem file value)")
	rootCmd.PersistentFlags().String("profile", "", "write a profile: cpu, mem, block, mutex or trace")
	for _, key := range []string{"logLevel", "condThreshold", "procs"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".gospectral")
	}
	viper.SetEnvPrefix("gospectral")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func startProfile(mode string) (interface{ Stop() }, error) {
	var opt func(*profile.Profile)
	switch strings.ToLower(mode) {
	case "":
		return nil, nil
	case "cpu":
		opt = profile.CPUProfile
	case "mem":
		opt = profile.MemProfile
	case "block":
		opt = profile.BlockProfile
	case "mutex":
		opt = profile.MutexProfile
	case "trace":
		opt = profile.TraceProfile
	default:
		return nil, fmt.Errorf("unknown profile mode %q", mode)
	}
	return profile.Start(opt, profile.ProfilePath("."), profile.NoShutdownHook), nil
}

// parseInts reads a comma separated list like "17,18,19".
func parseInts(s string) (v []int, err error) {
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		var n int
		if n, err = strconv.Atoi(f); err != nil {
			return nil, fmt.Errorf("bad integer list %q: %w", s, err)
		}
		v = append(v, n)
	}
	return
}
