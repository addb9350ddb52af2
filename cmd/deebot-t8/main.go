// Command deebot-t8 is a command-line client for Ecovacs Deebot T8
// series robots.
//
// Usage:
//
//	deebot-t8 [flags] <command> [args]
//
// Flags:
//
//	-config string      Configuration file path (default "deebot.conf.json")
//	-log-level string   Log level: debug, info, warn, error (default "warn")
//
// Commands:
//
//	login -username <u> -password <p> -country <cc> -continent <cc>
//	            Log in and store credentials in the config file
//	renew-access-token
//	            Force a credential renewal
//	list-devices
//	            List the devices on the account
//	device <name> <action> [args]
//	            Act on one device. Actions:
//	              watch                    interactive live state view
//	              clean                    start a full auto clean
//	              clean-areas <id>...      clean the given spot areas
//	              clean-custom <coords>    clean a custom area
//	              stop | pause | resume    control the current clean
//	              charge                   return to the dock
//	              relocate                 trigger manual relocation
//	              play-sound [sid]         play a sound (default 30)
//	              set-water-level <low|medium|high|ultra-high>
//	              set-speed <quiet|standard|max|max-plus>
//	              set-true-detect <on|off>
//	              set-clean-preference <on|off>
//	              set-auto-boost <on|off>
//	              set-auto-empty <on|off>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
	"github.com/deebot-t8/deebot-t8-go/pkg/config"
	"github.com/deebot-t8/deebot-t8-go/pkg/entity"
)

const (
	exitSuccess      = 0
	exitCommandError = 1
	exitRuntimeError = 2
)

func main() {
	var (
		configPath string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "deebot.conf.json", "Configuration file path")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(exitCommandError)
	}

	logger := newLogger(logLevel)
	store := config.NewStore(configPath)
	cfg, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(exitRuntimeError)
	}

	var exitCode int
	switch args[0] {
	case "login":
		exitCode = runLogin(store, cfg, args[1:], logger)
	case "renew-access-token":
		exitCode = runRenew(store, cfg, logger)
	case "list-devices":
		exitCode = runListDevices(store, cfg, logger)
	case "device":
		exitCode = runDevice(store, cfg, args[1:], logger)
	case "help", "-h", "--help":
		printUsage()
		exitCode = exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		exitCode = exitCommandError
	}
	os.Exit(exitCode)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: deebot-t8 [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "commands: login, renew-access-token, list-devices, device <name> <action>")
	fmt.Fprintln(os.Stderr, "run with -h for full documentation")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runLogin(store *config.Store, cfg *config.Config, args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Account email or mobile number")
	password := fs.String("password", "", "Account password")
	country := fs.String("country", "", "Two-letter country code")
	continent := fs.String("continent", "", "Continent code (eu, na, as, ww)")
	regenDevice := fs.Bool("regen-device", false, "Generate a new client device id")
	fs.Parse(args)

	if *username == "" || *password == "" || *country == "" || *continent == "" {
		fmt.Fprintln(os.Stderr, "login requires -username, -password, -country and -continent")
		return exitCommandError
	}

	// Reuse the existing device id unless told otherwise; tokens are
	// scoped to it.
	deviceID := ""
	if cfg != nil && !*regenDevice {
		deviceID = cfg.DeviceID
	}
	if deviceID == "" {
		deviceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	cfg = &config.Config{
		Username:     *username,
		PasswordHash: auth.MD5Hex(*password),
		Country:      strings.ToLower(*country),
		Continent:    strings.ToLower(*continent),
		DeviceID:     deviceID,
	}
	if err := store.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error saving config: %v\n", err)
		return exitRuntimeError
	}

	app, err := newApp(store, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	creds, err := app.authenticator.Authenticate(ctx, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("Authenticated as user %s, token expires at %s\n",
		creds.UserID, time.Unix(creds.ExpiresAt, 0).Format(time.RFC3339))
	return exitSuccess
}

func runRenew(store *config.Store, cfg *config.Config, logger *slog.Logger) int {
	app, err := newApp(store, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	creds, err := app.authenticator.Authenticate(ctx, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "renewal failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("Renewed token for user %s, expires at %s\n",
		creds.UserID, time.Unix(creds.ExpiresAt, 0).Format(time.RFC3339))
	return exitSuccess
}

func runListDevices(store *config.Store, cfg *config.Config, logger *slog.Logger) int {
	app, err := newApp(store, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	devices, err := app.api.Devices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing devices: %v\n", err)
		return exitRuntimeError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tNAME\tCATEGORY\tMODEL\tSTATUS")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.ID, d.Nickname, d.ProductCategory, d.Model, d.Status)
	}
	w.Flush()
	return exitSuccess
}

func runDevice(store *config.Store, cfg *config.Config, args []string, logger *slog.Logger) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: deebot-t8 device <name> <action> [args]")
		return exitCommandError
	}
	name, action, actionArgs := args[0], args[1], args[2:]

	app, err := newApp(store, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	ent, err := app.entityByName(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}

	if action == "watch" {
		return runWatch(ent)
	}
	if err := runAction(ctx, ent, action, actionArgs); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}

func runAction(ctx context.Context, ent *entity.Entity, action string, args []string) error {
	switch action {
	case "clean":
		return ent.Clean(ctx)
	case "clean-areas":
		if len(args) == 0 {
			return fmt.Errorf("clean-areas requires at least one area id")
		}
		areas := make([]int, len(args))
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid area id %q", a)
			}
			areas[i] = n
		}
		return ent.CleanAreas(ctx, areas)
	case "clean-custom":
		if len(args) != 1 {
			return fmt.Errorf("clean-custom requires a coordinate string")
		}
		return ent.CleanCustom(ctx, args[0])
	case "stop":
		return ent.Stop(ctx)
	case "pause":
		return ent.Pause(ctx)
	case "resume":
		return ent.Resume(ctx)
	case "charge":
		return ent.ReturnToCharge(ctx)
	case "relocate":
		return ent.Relocate(ctx)
	case "play-sound":
		sid := 30
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid sound id %q", args[0])
			}
			sid = n
		}
		return ent.PlaySound(ctx, sid)
	case "set-water-level":
		if len(args) != 1 {
			return fmt.Errorf("set-water-level requires a level")
		}
		level, err := parseWaterFlow(args[0])
		if err != nil {
			return err
		}
		return ent.SetWaterLevel(ctx, level)
	case "set-speed":
		if len(args) != 1 {
			return fmt.Errorf("set-speed requires a level")
		}
		speed, err := parseSpeed(args[0])
		if err != nil {
			return err
		}
		return ent.SetVacuumSpeed(ctx, speed)
	case "set-true-detect":
		enabled, err := parseOnOff(args)
		if err != nil {
			return err
		}
		return ent.SetTrueDetect(ctx, enabled)
	case "set-clean-preference":
		enabled, err := parseOnOff(args)
		if err != nil {
			return err
		}
		return ent.SetCleanPreference(ctx, enabled)
	case "set-auto-boost":
		enabled, err := parseOnOff(args)
		if err != nil {
			return err
		}
		return ent.SetAutoBoostSuction(ctx, enabled)
	case "set-auto-empty":
		enabled, err := parseOnOff(args)
		if err != nil {
			return err
		}
		return ent.SetAutoEmpty(ctx, enabled)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func parseWaterFlow(s string) (entity.WaterFlow, error) {
	switch strings.ToLower(s) {
	case "low":
		return entity.WaterFlowLow, nil
	case "medium":
		return entity.WaterFlowMedium, nil
	case "high":
		return entity.WaterFlowHigh, nil
	case "ultra-high", "ultrahigh":
		return entity.WaterFlowUltraHigh, nil
	default:
		return 0, fmt.Errorf("unknown water level %q", s)
	}
}

func parseSpeed(s string) (entity.Speed, error) {
	switch strings.ToLower(s) {
	case "quiet":
		return entity.SpeedQuiet, nil
	case "standard":
		return entity.SpeedStandard, nil
	case "max":
		return entity.SpeedMax, nil
	case "max-plus", "maxplus":
		return entity.SpeedMaxPlus, nil
	default:
		return 0, fmt.Errorf("unknown speed %q", s)
	}
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}
