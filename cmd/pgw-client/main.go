// pgw-client sends a single BCD-encoded IMSI admission request to a minipgw
// daemon and prints the verdict.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillidk/minipgw/internal/bcd"
	"github.com/kirillidk/minipgw/internal/config"
	appversion "github.com/kirillidk/minipgw/internal/version"
)

// Exit codes per spec.md section 6.
const (
	exitCreated           = 0
	exitUsage             = 1
	exitInvalidIMSIFormat = 2
	exitRejected          = 3
	exitUnexpectedReply   = 4
	exitTransportError    = 5
	exitConfigError       = 6
)

const requestTimeout = 3 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	code := exitUsage
	cmd := newRootCmd(&code)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}

	return code
}

func newRootCmd(code *int) *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:           "pgw-client <imsi> [config_file]",
		Short:         "send a single admission request to a minipgw daemon",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(appversion.Full("pgw-client"))
				return nil
			}

			if err := cobra.RangeArgs(1, 2)(c, args); err != nil {
				return err
			}

			imsi := args[0]
			configPath := "config.json"
			if len(args) == 2 {
				configPath = args[1]
			}
			return sendRequest(imsi, configPath, code)
		},
	}

	cmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")
	return cmd
}

func sendRequest(imsi, configPath string, code *int) error {
	datagram, err := bcd.Encode(imsi)
	if err != nil {
		*code = exitInvalidIMSIFormat
		return fmt.Errorf("encode imsi %q: %w", imsi, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		*code = exitConfigError
		return fmt.Errorf("load config: %w", err)
	}

	// config.Validate rejects any cfg.ServerIP that net.ParseIP can't parse,
	// so ParseIP here is always non-nil.
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.ServerIP), Port: int(cfg.ServerPort)}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		*code = exitTransportError
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		*code = exitTransportError
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(datagram); err != nil {
		*code = exitTransportError
		return fmt.Errorf("send datagram: %w", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		*code = exitTransportError
		return fmt.Errorf("read reply: %w", err)
	}

	reply := string(buf[:n])
	fmt.Println(reply)

	switch {
	case reply == "created":
		*code = exitCreated
	case reply == "rejected":
		*code = exitRejected
	case strings.HasPrefix(reply, "Error:"):
		*code = exitUnexpectedReply
		return fmt.Errorf("server reported: %s", reply)
	default:
		*code = exitUnexpectedReply
		return fmt.Errorf("unexpected reply: %q", reply)
	}

	return nil
}
