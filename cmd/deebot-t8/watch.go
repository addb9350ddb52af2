package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/deebot-t8/deebot-t8-go/pkg/entity"
)

// watcher runs the interactive live state view for one device.
type watcher struct {
	ent *entity.Entity
	rl  *readline.Instance
}

func runWatch(ent *entity.Entity) int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", ent.Device().Nickname),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("failed to create readline: %v\n", err)
		return exitRuntimeError
	}
	w := &watcher{ent: ent, rl: rl}
	return w.run()
}

func (w *watcher) run() int {
	defer w.rl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := w.ent.Attach(ctx, w.onChange)
	if err != nil {
		fmt.Fprintf(w.rl.Stderr(), "failed to attach: %v\n", err)
		return exitRuntimeError
	}
	defer w.ent.Detach(obs)

	w.printHelp()

	for {
		line, err := w.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(w.rl.Stdout(), "Exiting...")
			return exitSuccess
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			w.printHelp()

		case "status", "s":
			w.printState(w.ent.State())

		case "refresh":
			w.ent.Refresh(ctx)

		case "quit", "exit", "q":
			fmt.Fprintln(w.rl.Stdout(), "Exiting...")
			return exitSuccess

		default:
			cmdCtx, cmdCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := runAction(cmdCtx, w.ent, cmd, args); err != nil {
				fmt.Fprintf(w.rl.Stdout(), "error: %v (type 'help' for commands)\n", err)
			}
			cmdCancel()
		}
	}
}

// onChange runs on the broker receive and poll goroutines. It only
// writes the update line; readline serializes the output.
func (w *watcher) onChange(state entity.State, field entity.Field) {
	fmt.Fprintf(w.rl.Stdout(), "[%s] %s changed\n", time.Now().Format("15:04:05"), field)
	if field == entity.FieldRobotState || field == entity.FieldIsOnline || field == entity.FieldBatteryLevel {
		w.printState(state)
	}
}

func (w *watcher) printState(state entity.State) {
	tw := tabwriter.NewWriter(w.rl.Stdout(), 0, 4, 2, ' ', 0)
	row := func(name string, v any) {
		fmt.Fprintf(tw, "%s\t%s\n", name, formatValue(v))
	}
	row("online", state.IsOnline)
	row("state", state.RobotState)
	row("battery", state.BatteryLevel)
	row("charging", state.IsCharging)
	row("clean type", state.CleanType)
	row("speed", state.VacuumSpeed)
	row("water level", state.WaterLevel)
	row("mop attached", state.MopAttached)
	row("clean count", state.CleanCount)
	row("true detect", state.TrueDetect)
	row("clean preference", state.CleaningPreference)
	row("auto boost", state.AutoBoostSuction)
	row("auto empty", state.AutoEmpty)
	row("firmware", state.FwVersion)
	row("hardware", state.HwVersion)
	if state.CleanStats != nil {
		fmt.Fprintf(tw, "clean stats\tarea=%dm2 duration=%ds avoids=%d\n",
			state.CleanStats.Area, state.CleanStats.Duration, state.CleanStats.AvoidCount)
	}
	if state.TotalStats != nil {
		fmt.Fprintf(tw, "total\tarea=%dm2 duration=%ds cleans=%d\n",
			state.TotalStats.Area, state.TotalStats.Duration, state.TotalStats.Count)
	}
	for _, ls := range state.LifeSpans {
		fmt.Fprintf(tw, "%s\t%d%%\n", ls.Component, lifeSpanPercent(ls))
	}
	tw.Flush()
}

func lifeSpanPercent(ls entity.ComponentLifeSpan) int {
	if ls.Total <= 0 {
		return 0
	}
	return int(float64(ls.Left) / float64(ls.Total) * 100)
}

// formatValue renders pointer fields, printing "-" for unknown values.
func formatValue(v any) string {
	switch x := v.(type) {
	case *bool:
		if x == nil {
			return "-"
		}
		return fmt.Sprintf("%t", *x)
	case *int:
		if x == nil {
			return "-"
		}
		return fmt.Sprintf("%d", *x)
	case *string:
		if x == nil {
			return "-"
		}
		return *x
	case *entity.RobotState:
		if x == nil {
			return "-"
		}
		return x.String()
	case *entity.CleanType:
		if x == nil {
			return "-"
		}
		return x.String()
	case *entity.Speed:
		if x == nil {
			return "-"
		}
		return x.String()
	case *entity.WaterFlow:
		if x == nil {
			return "-"
		}
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (w *watcher) printHelp() {
	fmt.Fprintln(w.rl.Stdout(), `
Device Commands:
  status (s)                 - Show the current state snapshot
  refresh                    - Force a poll cycle now

  clean                      - Start a full auto clean
  clean-areas <id>...        - Clean the given spot areas
  clean-custom <coords>      - Clean a custom rectangle
  stop / pause / resume      - Control the current clean
  charge                     - Return to the dock
  relocate                   - Trigger manual relocation
  play-sound [sid]           - Play a sound

  set-water-level <level>    - low, medium, high, ultra-high
  set-speed <level>          - quiet, standard, max, max-plus
  set-true-detect <on|off>   - Toggle TrueDetect object avoidance
  set-clean-preference <on|off>
  set-auto-boost <on|off>    - Toggle carpet auto-boost suction
  set-auto-empty <on|off>    - Toggle dustbin auto-empty

  help (?)                   - Show this help
  quit (q)                   - Exit`)
}
