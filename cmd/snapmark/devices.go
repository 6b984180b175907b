package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quicklens/snapmark/pkg/camera"
)

var devicesMax int

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List usable camera devices",
	Run: func(cmd *cobra.Command, args []string) {
		found := 0
		for i := 0; i <= devicesMax; i++ {
			device := strconv.Itoa(i)
			if err := camera.Probe(device); err != nil {
				continue
			}
			fmt.Printf("device %s: ok\n", device)
			found++
		}
		if found == 0 {
			fmt.Println("no camera devices found")
		}
	},
}

func init() {
	devicesCmd.Flags().IntVar(&devicesMax, "max", 5, "Highest device index to probe")
	rootCmd.AddCommand(devicesCmd)
}
