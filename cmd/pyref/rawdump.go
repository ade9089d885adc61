package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/output"
)

func newRawDumpCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "rawdump <file.bin>",
		Short: "Decode a recorded stream capture",
		Long: `Rawdump replays a raw log written by "monitor --record" and prints
each CBOR payload as indented JSON. Payloads that fail to decode are
reported and skipped, so one corrupt record does not hide the rest of
the capture.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reader, err := output.OpenRawLog(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			n := 0
			for {
				if limit > 0 && n >= limit {
					break
				}
				rec, err := reader.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				n++

				fmt.Printf("--- record %d  %s  %d bytes\n",
					n, rec.Timestamp.Format(time.RFC3339Nano), len(rec.Payload))
				var payload any
				if err := cbor.Unmarshal(rec.Payload, &payload); err != nil {
					a.log.Warn().Err(err).Int("record", n).Msg("payload decode failed")
					continue
				}
				pretty, err := json.MarshalIndent(output.NormalizeJSONValue(payload), "", "  ")
				if err != nil {
					a.log.Warn().Err(err).Int("record", n).Msg("payload not representable as JSON")
					continue
				}
				fmt.Printf("%s\n", pretty)
			}
			a.log.Info().Int("records", n).Msg("dump complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many records (0 reads all)")
	return cmd
}
