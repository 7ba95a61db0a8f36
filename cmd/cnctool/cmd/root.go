package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-colorable"
	"github.com/roffe/gocnc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:          "cnctool",
	Short:        "stream G-code to grbl controllers",
	Long:         `Send G-code jobs, settings and commands to a grbl controller over serial.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

const (
	flagPort        = "port"
	flagBaudrate    = "baudrate"
	flagDebug       = "debug"
	flagTransport   = "transport"
	flagConfig      = "config"
	flagRXBuffer    = "rxbuffer"
	flagIncremental = "incremental"
)

var log = logrus.New()

func init() {
	log.SetOutput(colorable.NewColorableStdout())
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	addPersistentFlags(rootCmd.PersistentFlags())
}

func addPersistentFlags(pf *pflag.FlagSet) {
	pf.StringP(flagPort, "p", "*", "com-port, * = pick from list")
	pf.IntP(flagBaudrate, "b", gocnc.DefaultBaudrate, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagTransport, "t", "serial", "what transport to use, serial or sim")
	pf.StringP(flagConfig, "c", "", "ini file with machine settings")
	pf.Int(flagRXBuffer, gocnc.DefaultRXBufferSize, "controller receive buffer size in bytes")
	pf.Bool(flagIncremental, false, "send one line at a time and wait for its ok")
}

// getConfig loads the config file, if any, and applies the flags given on
// the command line on top of it.
func getConfig(cmd *cobra.Command) (*gocnc.Config, error) {
	pf := cmd.Flags()
	cfg := gocnc.DefaultConfig()
	if file, _ := pf.GetString(flagConfig); file != "" {
		var err error
		if cfg, err = gocnc.LoadConfig(file); err != nil {
			return nil, err
		}
	}
	if pf.Changed(flagPort) || cfg.Port == "" {
		cfg.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) {
		cfg.Baudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagTransport) {
		cfg.Transport, _ = pf.GetString(flagTransport)
	}
	if pf.Changed(flagRXBuffer) {
		cfg.RXBufferSize, _ = pf.GetInt(flagRXBuffer)
	}
	if pf.Changed(flagIncremental) {
		cfg.Incremental, _ = pf.GetBool(flagIncremental)
	}
	cfg.Debug, _ = pf.GetBool(flagDebug)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg.Logger = log
	return cfg, nil
}

// connect opens the controller and waits for its boot banner.
func connect(cmd *cobra.Command) (*gocnc.Client, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	return connectWith(cmd.Context(), cfg)
}

func connectWith(ctx context.Context, cfg *gocnc.Config) (*gocnc.Client, error) {
	if cfg.Transport == "serial" && (cfg.Port == "*" || cfg.Port == "") {
		port, err := pickPort()
		if err != nil {
			return nil, err
		}
		cfg.Port = port
	}

	booted := make(chan struct{}, 1)
	onBoot := cfg.OnBoot
	cfg.OnBoot = func(c *gocnc.Client) {
		select {
		case booted <- struct{}{}:
		default:
		}
		if onBoot != nil {
			onBoot(c)
		}
	}

	c, err := gocnc.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	select {
	case <-booted:
		return c, nil
	case <-c.Done():
		return nil, fmt.Errorf("controller disconnected before boot: %w", c.Err())
	case <-time.After(10 * time.Second):
		c.Close()
		return nil, errors.New("no boot banner from controller, check port and baudrate")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

func pickPort() (string, error) {
	ports, err := gocnc.ListPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = p.String()
	}
	prompt := promptui.Select{
		Label:    "Select port",
		HideHelp: true,
		Items:    items,
	}
	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return ports[i].Name, nil
}

func yesNo(label string) bool {
	prompt := promptui.Select{
		Label:    label + " [Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		log.Fatalf("Prompt failed %v", err)
	}
	return result == "Yes"
}
