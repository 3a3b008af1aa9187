package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdginn/showctl/osc"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	To   string
	Wait time.Duration
}

func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <address> [args...]",
		Short: "Send one OSC command and print the replies",
		Long: `Send one OSC command and print the replies.

Arguments that parse as integers are sent as int32, decimals as float32, anything else
as a string. Prefix an argument with "s:" to force a string.

Example:
  showctl send /set-event evt-42
  showctl send /cue/12/load
  showctl send /set-day 2 --to 10.0.0.5:57121`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("to") {
				if cfg, err := loadConfig(opts.RootOptions); err == nil {
					opts.To = fmt.Sprintf("127.0.0.1:%d", cfg.OSC.Port)
				}
			}
			return send(cmd.OutOrStdout(), opts.To, opts.Wait, args[0], parseArgs(args[1:])...)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", fmt.Sprintf("127.0.0.1:%d", osc.DefaultPort), "host:port of the bridge")
	cmd.Flags().DurationVarP(&opts.Wait, "wait", "w", 2*time.Second, "how long to wait for replies")

	return cmd
}

func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, a := range raw {
		if s, ok := strings.CutPrefix(a, "s:"); ok {
			out = append(out, s)
			continue
		}
		if n, err := strconv.ParseInt(a, 10, 32); err == nil {
			out = append(out, int32(n))
			continue
		}
		if f, err := strconv.ParseFloat(a, 32); err == nil {
			out = append(out, float32(f))
			continue
		}
		out = append(out, a)
	}
	return out
}

// send writes one message to addr and prints every reply that arrives within wait.
func send(w io.Writer, addr string, wait time.Duration, address string, args ...any) error {
	data, err := osc.Encode(address, args...)
	if err != nil {
		return err
	}
	to, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(data, to); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	buf := make([]byte, 65535)
	replies := 0
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return err
		}
		msg, err := osc.Decode(buf[:n])
		if err != nil && msg.Address == "" {
			fmt.Fprintf(w, "malformed reply (%d bytes)\n", n)
			continue
		}
		replies++
		fmt.Fprintln(w, msg.String())
	}
	if replies == 0 {
		return fmt.Errorf("no reply from %s within %s", to, wait)
	}
	return nil
}
