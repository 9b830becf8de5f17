package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/axdl-flasher/internal/bsl/transport"
	"github.com/bigbag/axdl-flasher/internal/sequencer"
)

var (
	axpFlag   string
	vidFlag   string
	pidFlag   string
	resetFlag bool
	debugFlag bool
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rootCmd := &cobra.Command{
		Use:   "axdl-flasher",
		Short: "Flash AXDL firmware bundles over the BSL USB bootloader",
		Long: `axdl-flasher brings a device from mask-ROM through FDL1/FDL2,
reshapes its flash partition table, and burns each selected image from
an AXP bundle (a zip archive holding an XML manifest and binary images).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlash(log)
		},
	}

	rootCmd.Flags().StringVar(&axpFlag, "axp", "", "path to the AXP firmware bundle (required)")
	rootCmd.Flags().StringVar(&vidFlag, "vid", fmt.Sprintf("0x%04X", transport.DefaultVID), "USB vendor ID (hex)")
	rootCmd.Flags().StringVar(&pidFlag, "pid", fmt.Sprintf("0x%04X", transport.DefaultPID), "USB product ID (hex)")
	rootCmd.Flags().BoolVar(&resetFlag, "reset", false, "send RESET after a successful burn")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "verbose logging")
	_ = rootCmd.MarkFlagRequired("axp")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(log *logrus.Logger) error {
	if debugFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	vid, err := parseHexFlag(vidFlag)
	if err != nil {
		return fmt.Errorf("--vid: %w", err)
	}
	pid, err := parseHexFlag(pidFlag)
	if err != nil {
		return fmt.Errorf("--pid: %w", err)
	}

	var bar *progressbar.ProgressBar
	var lastName string

	err = sequencer.Run(sequencer.Options{
		AXPPath: axpFlag,
		VID:     vid,
		PID:     pid,
		Reset:   resetFlag,
		Log:     log,
		Progress: func(name string, sent, total int) {
			if name != lastName {
				if bar != nil {
					bar.Finish()
				}
				fmt.Printf("\nFlashing %s...\n", name)
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription(name),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionThrottle(100),
					progressbar.OptionClearOnFinish(),
				)
				lastName = name
			}
			bar.Set(sent)
		},
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		log.WithError(err).Error("flash failed")
		return err
	}

	fmt.Println("\nFlash complete!")
	return nil
}

func parseHexFlag(s string) (int, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseInt(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return int(v), nil
}
