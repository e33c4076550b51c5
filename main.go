// Package main provides the chime CLI: manifest validation and
// playback of clips and demo sequences through the orchestration
// engine.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sproutlearn/chime/audio"
	"github.com/sproutlearn/chime/audio/player"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	manifestPath string
	assetsDir    string
	debug        bool
	silent       bool

	rootCmd = &cobra.Command{
		Use:   "chime",
		Short: "Audio orchestration for bilingual learning apps",
		Long: paragraph(
			fmt.Sprintf("\nOrchestrate %s: catalog, cache, priority scheduling and narration sequencing with a hard volume safety cap.", keyword("learning-app audio")),
		),
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Lint the clip manifest",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}

	playCmd = &cobra.Command{
		Use:   "play KEY",
		Short: "Play a single clip through the engine",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlay,
	}

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted bilingual sequence showing preemption and ducking",
		Args:  cobra.NoArgs,
		RunE:  runDemo,
	}

	playLanguage string
	playChannel  string
	playVolume   float64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "engine config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "manifest.yaml", "clip manifest file")
	rootCmd.PersistentFlags().StringVar(&assetsDir, "assets", ".", "directory holding clip payloads")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "use the mock player instead of the audio device")

	playCmd.Flags().StringVarP(&playLanguage, "language", "l", "", "clip language (default: configured default)")
	playCmd.Flags().StringVarP(&playChannel, "channel", "c", "foreground", "playback channel (foreground|background)")
	playCmd.Flags().Float64VarP(&playVolume, "volume", "v", 0, "requested volume before the safety clamp (0 = type default)")

	rootCmd.AddCommand(validateCmd, playCmd, demoCmd)
}

func runValidate(*cobra.Command, []string) error {
	catalog, err := audio.LoadCatalog(manifestPath)
	if err != nil {
		return err
	}
	preload := catalog.PreloadSet()
	fmt.Println(paragraph(fmt.Sprintf("%s: %d clips, %d flagged for preload",
		keyword(manifestPath), catalog.Len(), len(preload))))
	for _, clip := range preload {
		fmt.Printf("  %s %s\n", clip.CacheKey(), subtle(clip.Source))
	}
	return nil
}

func buildEngine() (*audio.Engine, error) {
	cfg, err := audio.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	catalog, err := audio.LoadCatalog(manifestPath)
	if err != nil {
		return nil, err
	}

	var p audio.Player
	if silent {
		p = player.NewMock(600 * time.Millisecond)
	} else {
		pcm, err := player.NewPCM(player.DefaultSampleRate, player.DefaultChannels)
		if err != nil {
			return nil, err
		}
		p = pcm
	}

	return audio.New(cfg, catalog, audio.FileLoader{Root: assetsDir}, p)
}

func runPlay(_ *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ch := audio.Foreground
	if playChannel == "background" {
		ch = audio.Background
	}

	sub := eng.Subscribe(nil)
	defer sub.Cancel()
	go printEvents(sub)

	sess, err := eng.Play(context.Background(), args[0], playLanguage, ch, audio.PlayOptions{Volume: playVolume})
	if err != nil {
		return err
	}
	<-sess.Done()
	if err := sess.Err(); err != nil {
		return err
	}

	st := eng.CacheStats()
	fmt.Println(subtle(fmt.Sprintf("cache: %d entries, %s", st.Entries, humanize.Bytes(uint64(st.Bytes)))))
	return nil
}

// runDemo plays background music, narrates a short bilingual sequence
// over it, then fires a high-priority interrupt so ducking and
// preemption are audible (or visible in the event stream under
// --silent).
func runDemo(*cobra.Command, []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sub := eng.Subscribe(nil)
	defer sub.Cancel()
	go printEvents(sub)

	ctx := context.Background()
	if err := eng.PreloadStartupSet(ctx); err != nil {
		log.Warn("preload incomplete", "err", err)
	}

	if _, err := eng.Play(ctx, "music.theme", "", audio.Background, audio.PlayOptions{FadeIn: 300 * time.Millisecond}); err != nil {
		log.Warn("background music unavailable", "err", err)
	}

	steps := []audio.SequenceStep{
		{Key: "welcome"},
		{Key: "welcome", Language: "es"},
		{Key: "count.intro"},
	}
	h := eng.RunSequence(ctx, "en", steps, 250*time.Millisecond)

	// Interrupt the narration part-way through, the way a tapped
	// pause button would.
	time.Sleep(900 * time.Millisecond)
	if _, err := eng.Play(ctx, "alert.pause", "", audio.Foreground, audio.PlayOptions{}); err != nil {
		log.Warn("interrupt clip unavailable", "err", err)
	}

	<-h.Done()
	eng.Stop(audio.Background, 400*time.Millisecond)
	time.Sleep(600 * time.Millisecond)

	st := eng.CacheStats()
	fmt.Println(subtle(fmt.Sprintf("cache: %d entries (%d pinned), %s, %d hits / %d misses",
		st.Entries, st.Pinned, humanize.Bytes(uint64(st.Bytes)), st.Hits, st.Misses)))
	return nil
}

func printEvents(sub *audio.Subscription) {
	for ev := range sub.C {
		line := fmt.Sprintf("%-11s %s %s", ev.Type, ev.Channel, ev.ClipKey)
		if ev.ByClipKey != "" {
			line += " by " + ev.ByClipKey
		}
		if ev.Err != nil {
			line += " " + errorStyle.Render(ev.Err.Error())
		}
		fmt.Println(subtle(ev.Time.Format("15:04:05.000")) + " " + line)
	}
}
