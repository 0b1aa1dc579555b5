// Package main provides the speaker control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/adfspeaker/internal/api/connect"
)

var (
	app    = kingpin.New("speakerctl", "Speaker daemon control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	statusCmd = app.Command("status", "Show speaker and media status")

	playCmd = app.Command("play", "Stream a URL or file")
	playURL = playCmd.Arg("url", "http(s) URL, file:// URL or path").Required().String()

	stopCmd   = app.Command("stop", "Stop playback")
	pauseCmd  = app.Command("pause", "Pause playback")
	resumeCmd = app.Command("resume", "Resume playback")

	volumeCmd   = app.Command("volume", "Volume control")
	volUpCmd    = volumeCmd.Command("up", "Raise volume by one step")
	volDownCmd  = volumeCmd.Command("down", "Lower volume by one step")
	volSetCmd   = volumeCmd.Command("set", "Set volume")
	volSetValue = volSetCmd.Arg("percent", "Volume 0-100").Required().Int()

	pressCmd    = app.Command("press", "Press a front-panel button")
	pressButton = pressCmd.Arg("button", "rec, set, play, mode, volup or voldown").Required().Enum("rec", "set", "play", "mode", "volup", "voldown")

	watchCmd = app.Command("watch", "Stream status changes until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewSpeakerServiceClient(
		http.DefaultClient,
		*server,
		apiconnect.WithAdminToken(*token),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = printStatus(client.GetStatus(ctx))
	case playCmd.FullCommand():
		err = printStatus(client.PlayURL(ctx, *playURL))
	case stopCmd.FullCommand():
		err = printStatus(client.Stop(ctx))
	case pauseCmd.FullCommand():
		err = printStatus(client.Pause(ctx))
	case resumeCmd.FullCommand():
		err = printStatus(client.Resume(ctx))
	case volUpCmd.FullCommand():
		err = printVolume(client.VolumeUp(ctx))
	case volDownCmd.FullCommand():
		err = printVolume(client.VolumeDown(ctx))
	case volSetCmd.FullCommand():
		err = printVolume(client.SetVolume(ctx, *volSetValue))
	case pressCmd.FullCommand():
		var accepted bool
		accepted, err = client.PressButton(ctx, *pressButton)
		if err == nil {
			if accepted {
				fmt.Printf("Button %s pressed\n", *pressButton)
			} else {
				fmt.Printf("Button %s debounced\n", *pressButton)
			}
		}
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, client *apiconnect.SpeakerServiceClient) error {
	stream, err := client.Watch(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := printStatus(stream.Msg(), nil); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

func printVolume(v int, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("Volume: %d\n", v)
	return nil
}

func printStatus(st *structpb.Struct, err error) error {
	if err != nil {
		return err
	}
	m := st.AsMap()
	spk, _ := m["speaker"].(map[string]any)
	med, _ := m["media"].(map[string]any)

	fmt.Printf("\n=== SPEAKER STATUS (seq %v, %v) ===\n", m["sequence_no"], m["time"])
	fmt.Printf("State: %v\n", spk["state"])
	fmt.Printf("Buffered Frames: %v\n", spk["buffered"])
	if s, _ := spk["session"].(string); s != "" {
		fmt.Printf("Session: %s\n", s)
	}
	if failed, _ := spk["failed"].(bool); failed {
		fmt.Println("Setup Failed: true")
	}
	if warn, _ := spk["warning"].(bool); warn {
		fmt.Printf("Warning: %v\n", spk["last_warning"])
	}

	fmt.Println("\nMedia:")
	if playing, _ := med["playing"].(bool); playing {
		fmt.Printf("  Playing: %v\n", med["url"])
		if paused, _ := med["paused"].(bool); paused {
			fmt.Println("  Paused: true")
		}
	} else {
		fmt.Println("  Nothing playing")
	}
	fmt.Printf("  Volume: %v\n", med["volume"])
	if e, _ := med["last_error"].(string); e != "" {
		fmt.Printf("  Last Error: %s\n", e)
	}
	fmt.Println()
	return nil
}
