package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/grooved/internal/ipc"
)

var follow bool

var ctlCmd = &cobra.Command{
	Use:   "ctl <command> [json-data]",
	Short: "Send one command to a running daemon",
	Example: `  grooved ctl toggle
  grooved ctl play '{"index":3}'
  grooved ctl key '{"key":"ctrl+right"}'
  grooved ctl subscribe --follow`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data interface{}
		if len(args) == 2 {
			data = json.RawMessage(args[1])
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("data is not valid JSON: %s", args[1])
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		client, err := ipc.Dial(ctx, socketPath)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Call(ctx, ipc.CommandType(args[0]), data)
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("%s: %s", args[0], resp.Error)
		}
		if len(resp.Data) > 0 {
			fmt.Println(string(resp.Data))
		}

		if !follow {
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		for {
			msg, err := client.Next()
			if err != nil {
				return err
			}
			enc.Encode(msg)
		}
	},
}

func init() {
	ctlCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing pushed events")
	rootCmd.AddCommand(ctlCmd)
}
