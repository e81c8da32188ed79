package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/go-errors/errors"
	"github.com/haronband/director/pkg/app"
	"github.com/haronband/director/pkg/config"
	"github.com/haronband/director/pkg/utils"
	yaml "github.com/jesseduffield/yaml"
	"github.com/integrii/flaggy"
	"github.com/samber/lo"
)

const DEFAULT_VERSION = "unversioned"

var (
	commit      string
	version     = DEFAULT_VERSION
	date        string
	buildSource = "unknown"

	configFlag    = false
	debuggingFlag = false
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version,
		date,
		buildSource,
		commit,
		runtime.GOOS,
		runtime.GOARCH,
	)

	flaggy.SetName("director")
	flaggy.SetDescription("Supervises a fleet of container-backed services")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/haronband/director"

	flaggy.Bool(&configFlag, "c", "config", "Print the current default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "a boolean")
	flaggy.SetVersion(info)

	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		defaults := config.DefaultConfig()
		if err := encoder.Encode(defaults); err != nil {
			log.Fatal(err.Error())
		}
		fmt.Printf("%v\n", buf.String())
		os.Exit(0)
	}

	cfg, err := config.NewConfig("director", version, commit, date, debuggingFlag)
	if err != nil {
		log.Fatal(err.Error())
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		a.Close()
		fail(a, err)
	}

	<-ctx.Done()
	a.Close()
}

func fail(a *app.App, err error) {
	newErr := errors.Wrap(err, 0)
	stackTrace := newErr.ErrorStack()
	a.Log.Error(stackTrace)
	log.Fatalf("director failed to start\n\n%s", stackTrace)
}

func updateBuildInfo() {
	if version == DEFAULT_VERSION {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			revision, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
				return setting.Key == "vcs.revision"
			})
			if ok {
				commit = revision.Value
				// if director was built from source we show the version as the
				// abbreviated commit hash
				version = utils.SafeTruncate(revision.Value, 7)
			}

			// if version hasn't been set we assume that neither has the date
			buildTime, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
				return setting.Key == "vcs.time"
			})
			if ok {
				date = buildTime.Value
			}
		}
	}
}
