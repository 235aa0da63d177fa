package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/connectors/localexec"
	"github.com/fentz26/uta/internal/device/adb"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices adb can drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir, _ := os.Getwd()
		serials, err := adb.Devices(cmd.Context(), localexec.New(workDir), cfg.Device.ADBPath)
		if err != nil {
			return err
		}
		if len(serials) == 0 {
			fmt.Println("No devices attached")
			return nil
		}
		for _, s := range serials {
			fmt.Println(s)
		}
		return nil
	},
}
