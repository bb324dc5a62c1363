package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/emmett/crowdmeter/internal/server/grpc"
)

var remoteAddr string

var remoteCmd = &cobra.Command{
	Use:   "remote <state|devices|start|submit|again|abort|switch> [device]",
	Short: "Control a meter started with 'serve'",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := remoteAddr
		if addr == "" {
			addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		}

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		c := grpcserver.NewMeterClient(conn)

		var resp *structpb.Struct
		switch args[0] {
		case "state":
			resp, err = c.GetState(ctx)
		case "devices":
			resp, err = c.ListDevices(ctx)
		case "start":
			resp, err = c.Start(ctx)
		case "submit":
			resp, err = c.Submit(ctx)
		case "again":
			resp, err = c.Again(ctx)
		case "abort":
			resp, err = c.Abort(ctx)
		case "switch":
			if len(args) < 2 {
				return fmt.Errorf("switch needs a device id")
			}
			resp, err = c.SwitchDevice(ctx, args[1])
		default:
			return fmt.Errorf("unknown action %q", args[0])
		}
		if err != nil {
			return err
		}

		out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	remoteCmd.Flags().StringVar(&remoteAddr, "addr", "", "server address (default: server.host:server.port from config)")
}
