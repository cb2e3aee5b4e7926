package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/picoprov/picoprov/internal/httpcfg"
	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/netif"
	"github.com/picoprov/picoprov/internal/provision"
	"github.com/picoprov/picoprov/internal/radio/iwd"
	"github.com/picoprov/picoprov/internal/scanner"
	"github.com/picoprov/picoprov/internal/softap"
	"github.com/picoprov/picoprov/internal/store"
	"github.com/picoprov/picoprov/internal/tui"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// Command flags
var (
	listenAddr   string
	apSSID       string
	apPassword   string
	apChannel    int
	storePath    string
	scanTimeout  int
	policyName   string
	announce     bool
	statusServer bool
	passwordFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Settings file path (default: OS config dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(wizardCmd)
}

func addProvisioningFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&listenAddr, "listen", httpcfg.DefaultAddr, "Config server listen address")
	cmd.Flags().StringVar(&apSSID, "ap-ssid", softap.DefaultSSID, "Provisioning network name")
	cmd.Flags().StringVar(&apPassword, "ap-password", "", "Provisioning network password (empty for open)")
	cmd.Flags().IntVar(&apChannel, "ap-channel", softap.DefaultChannel, "Provisioning network channel")
	cmd.Flags().BoolVar(&announce, "announce", true, "Announce the setup page via mDNS")
	cmd.Flags().StringVar(&policyName, "on-failure", "manual", "After a failed post-submission connect: manual or reprovision")
}

// stack bundles the wired provisioning components.
type stack struct {
	radio *iwd.Driver
	net   *netif.Manager
	sc    *scanner.Scanner
	ap    *softap.Controller
	srv   *httpcfg.Server
	st    *store.Store
	orch  *provision.Orchestrator
}

func (s *stack) close() {
	if s.orch != nil {
		s.orch.StopProvisioning()
		s.orch.Close()
	}
	if s.ap != nil {
		s.ap.Close()
	}
	if s.sc != nil {
		s.sc.Close()
	}
	if s.net != nil {
		s.net.Close()
	}
	if s.radio != nil {
		s.radio.Close()
	}
}

// unavailableAddresser stands in when the netlink manager cannot be
// created (insufficient privileges). AP addressing then degrades the
// same way as missing address-service support.
type unavailableAddresser struct{}

func (unavailableAddresser) AssignAddress(string, net.IP, uint8) error {
	return wifierr.New(wifierr.KindUnavailable, "address configuration unavailable")
}

func (unavailableAddresser) StartAddressService(string, net.IP) error {
	return wifierr.New(wifierr.KindUnavailable, "address service unavailable")
}

func (unavailableAddresser) StopAddressService(string) error { return nil }

func buildStack() (*stack, error) {
	r, err := iwd.New()
	if err != nil {
		return nil, err
	}

	s := &stack{radio: r}

	var addr softap.Addresser
	if nm, err := netif.New(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: interface management unavailable: %v\n", err)
		addr = unavailableAddresser{}
	} else {
		s.net = nm
		addr = nm
	}

	st, err := store.Open(storePath)
	if err != nil {
		s.close()
		return nil, err
	}
	s.st = st

	s.sc = scanner.New(r)
	s.ap = softap.New(r, addr, softap.Config{
		SSID:     apSSID,
		Password: apPassword,
		Channel:  apChannel,
	})
	s.srv = httpcfg.New(httpcfg.Config{Addr: listenAddr, Announce: announce}, s.sc)

	policy := provision.PolicyStayManual
	if policyName == "reprovision" {
		policy = provision.PolicyReProvision
	}

	s.orch = provision.New(r, s.sc, s.ap, s.srv, st, provision.Config{
		Policy:              policy,
		DisableStatusServer: !statusServer,
	})
	return s, nil
}

func waitForInterrupt() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// runCmd is the daemon entry point.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the provisioning daemon",
	Long: `Run the full provisioning lifecycle.

With stored credentials the daemon connects and stays connected.
Without them it opens the provisioning access point and configuration
page and waits for a submission.`,
	Example: `  # Run with defaults
  picoprovd run

  # Secured provisioning network on a custom page port
  picoprovd run --ap-password setup123 --listen :8080`,
	RunE: runRun,
}

func init() {
	addProvisioningFlags(runCmd)
	runCmd.Flags().BoolVar(&statusServer, "status-server", true, "Keep the config page up after connecting")
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	if s.net != nil {
		go s.net.Watch(func(ev netif.LinkEvent) {
			logging.Debug("Link event",
				zap.Uint16("type", ev.Type),
				zap.Bool("removed", ev.Removed),
			)
		})
	}

	if err := s.orch.Run(); err != nil {
		return err
	}

	waitForInterrupt()
	return nil
}

// scanCmd lists nearby networks.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for WiFi networks",
	Example: `  # Scan with the default 10s timeout
  picoprovd scan

  # Longer scan
  picoprovd scan --timeout 20`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	r, err := iwd.New()
	if err != nil {
		return err
	}
	defer r.Close()

	sc := scanner.New(r)
	defer sc.Close()

	fmt.Printf("Scanning (timeout: %ds)...\n\n", scanTimeout)
	if err := sc.Scan(time.Duration(scanTimeout) * time.Second); err != nil {
		return err
	}

	results, count := sc.Results()
	if count == 0 {
		fmt.Println("No networks found.")
		return nil
	}

	fmt.Printf("%-32s  %6s  %s\n", "SSID", "SIGNAL", "SECURITY")
	for _, res := range results {
		fmt.Printf("%-32s  %3d dBm  %s\n", res.SSID, res.RSSI, res.Security)
	}
	return nil
}

// statusCmd reports stored state and radio presence.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provisioning status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(storePath)
	if err != nil {
		return err
	}

	fmt.Printf("Settings file: %s\n", st.Path())
	fmt.Printf("Boot count:    %d\n", st.BootCount())

	if ssid, _, ok := st.Credentials(); ok {
		fmt.Printf("Network:       %s (credentials stored)\n", ssid)
	} else {
		fmt.Println("Network:       not configured")
	}

	r, err := iwd.New()
	if err != nil {
		fmt.Printf("Radio:         unavailable (%v)\n", err)
		return nil
	}
	defer r.Close()

	name, err := r.DeviceName()
	if err != nil {
		fmt.Printf("Radio:         no device (%v)\n", err)
		return nil
	}
	fmt.Printf("Radio:         %s\n", name)
	return nil
}

// setCmd stores credentials without connecting.
var setCmd = &cobra.Command{
	Use:   "set <ssid>",
	Short: "Store WiFi credentials",
	Long: `Store a network name and passphrase.

The passphrase is prompted without echo unless --password is given.
An empty passphrase marks the network as open. Use 'picoprovd connect'
to join the network afterwards, or restart the daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

func init() {
	setCmd.Flags().StringVar(&passwordFlag, "password", "", "Passphrase (prompted when omitted)")
}

func runSet(cmd *cobra.Command, args []string) error {
	ssid := args[0]

	password := passwordFlag
	if !cmd.Flags().Changed("password") {
		fmt.Print("Passphrase (empty for open network): ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		password = string(raw)
	}

	st, err := store.Open(storePath)
	if err != nil {
		return err
	}
	if err := st.SetCredentials(ssid, password); err != nil {
		return err
	}

	fmt.Printf("Credentials for %q saved to %s\n", ssid, st.Path())
	return nil
}

// clearCmd removes stored credentials.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear stored WiFi credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(storePath)
		if err != nil {
			return err
		}
		if err := st.ClearCredentials(); err != nil {
			return err
		}
		fmt.Println("Credentials cleared.")
		return nil
	},
}

// connectCmd joins the stored network once.
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect using stored credentials",
	RunE:  runConnect,
}

func init() {
	addProvisioningFlags(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	ssid, psk, ok := s.st.Credentials()
	if !ok {
		return wifierr.New(wifierr.KindInvalidArgument,
			"no credentials stored; run 'picoprovd set' first")
	}

	fmt.Printf("Connecting to %s...\n", ssid)
	if err := s.orch.Connect(ssid, psk); err != nil {
		return err
	}
	fmt.Println("Connected.")
	return nil
}

// provisionCmd opens the provisioning surface until a submission
// succeeds or the process is interrupted.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Open the provisioning access point",
	Long: `Start a provisioning session: scan, open the access point, and
serve the configuration page. The session ends when submitted
credentials lead to a successful connection or on interrupt (Ctrl-C),
which tears the access point down cleanly.`,
	RunE: runProvision,
}

func init() {
	addProvisioningFlags(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.orch.StartProvisioning(); err != nil {
		return err
	}
	if s.orch.Degraded() {
		fmt.Println("Access point unavailable; use 'picoprovd set' or 'picoprovd wizard' instead.")
	} else {
		fmt.Printf("Provisioning network %q is up. Join it and open http://%s/\n",
			apSSID, softap.DefaultIP)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping provisioning.")
			s.orch.StopProvisioning()
			return nil
		case <-ticker.C:
			if s.orch.State() == provision.StateConnected {
				fmt.Printf("Connected to %s.\n", s.orch.Target())
				return nil
			}
		}
	}
}

// wizardCmd runs the interactive terminal wizard.
var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive credential entry wizard",
	RunE:  runWizard,
}

func init() {
	addProvisioningFlags(wizardCmd)
}

func runWizard(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	return tui.Run(s.orch, s.sc)
}
