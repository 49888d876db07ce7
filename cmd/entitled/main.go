package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"entitled/internal/app"
	"entitled/internal/config"
	"entitled/internal/infrastructure"
	"entitled/internal/license"
	"entitled/pkg/contracts"
)

const usage = `Usage: entitled <command> [flags]

Commands:
  serve      run the local entitlement service
  status     print the resolved license state
  validate   resolve the license against the offline file, cache and authority
  activate   activate the license for this machine
  install    import an offline license file
  clear      drop cached state for the license
  version    print version information

Flags are command-specific; run 'entitled <command> -h' for details.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "activate":
		err = runActivate(os.Args[2:])
	case "install":
		err = runInstall(os.Args[2:])
	case "clear":
		err = runClear(os.Args[2:])
	case "version":
		fmt.Println(contracts.GetFullVersionString())
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cliSetup loads configuration and builds the manager with a quiet logger.
// CLI output goes to stdout as JSON; logs stay out of the way unless the
// configured level pulls them in.
func cliSetup(fs *flag.FlagSet, args []string) (*config.Config, *license.Manager, string, error) {
	configFile := fs.String("config", "", "path to config file (default: entitled.yaml next to the executable)")
	key := fs.String("key", "", "license key (default: configured license key)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, "", err
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, "", err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, nil, "", err
	}

	manager, err := app.NewManager(cfg, logger)
	if err != nil {
		return nil, nil, "", err
	}

	licenseKey := *key
	if licenseKey == "" {
		licenseKey = cfg.License.Key
	}
	if licenseKey == "" {
		return nil, nil, "", fmt.Errorf("no license key: pass -key or set ENTITLED_LICENSE_KEY")
	}

	return cfg, manager, licenseKey, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return err
	}
	return application.Run()
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_, manager, key, err := cliSetup(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	state := manager.GetLicenseState(ctx, key)
	return printJSON(map[string]any{
		"license_key":  license.MaskLicenseKey(key),
		"status":       state.State(),
		"operational":  state.AllowsOperation(),
		"in_grace":     state.IsInGrace(),
		"expired":      state.IsExpired(),
		"capabilities": state.Entitlement().Capabilities(),
	})
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	force := fs.Bool("force-network", false, "skip the offline file and cache, ask the authority")
	_, manager, key, err := cliSetup(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	state, err := manager.ValidateLicense(ctx, key, license.ValidateOptions{ForceNetwork: *force})
	if err != nil {
		return err
	}
	return printJSON(state.ToMap())
}

func runActivate(args []string) error {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	_, manager, key, err := cliSetup(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	state, err := manager.ActivateLicense(ctx, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "license %s activated\n", license.MaskLicenseKey(key))
	return printJSON(state.ToMap())
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	file := fs.String("file", "", "path to the offline license file (required)")
	_, manager, key, err := cliSetup(fs, args)
	if err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open license file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read license file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.InstallLicenseFile(ctx, key, string(content)); err != nil {
		return err
	}

	fmt.Printf("offline license installed for %s\n", license.MaskLicenseKey(key))
	return nil
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	_, manager, key, err := cliSetup(fs, args)
	if err != nil {
		return err
	}

	removed := manager.ClearLicenseState(key)
	fmt.Printf("cleared %d cached state(s) for %s\n", removed, license.MaskLicenseKey(key))
	return nil
}
