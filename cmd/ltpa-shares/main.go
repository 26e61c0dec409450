package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/oarkflow/ltpa/config"
	"github.com/oarkflow/ltpa/token"
)

const (
	version = "1.0.0"

	sharesKey   = "key_password_shares"
	passwordKey = "key_password"
)

type Options struct {
	FilePath     string
	PasswordFile string
	Prompt       bool
	Shares       int
	Threshold    int
	KeepPassword bool
	Print        bool
	Backup       bool
	Verbose      bool
	ShowVersion  bool
}

func main() {
	opts := parseFlags()

	if opts.ShowVersion {
		fmt.Printf("ltpa-shares v%s\n", version)
		os.Exit(0)
	}

	if err := validateOptions(opts); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := runSplit(opts); err != nil {
		log.Fatalf("Splitting key password failed: %v", err)
	}

	if opts.Verbose && !opts.Print {
		fmt.Printf("✓ Stored %d shares (threshold %d) under '%s' in %s\n", opts.Shares, opts.Threshold, sharesKey, opts.FilePath)
	}
}

func parseFlags() *Options {
	opts := &Options{}

	pflag.StringVarP(&opts.FilePath, "file", "f", "", "Path to the YAML service configuration")
	pflag.StringVar(&opts.PasswordFile, "password-file", "", "Read the key password from this file")
	pflag.BoolVarP(&opts.Prompt, "prompt", "P", false, "Prompt for the key password on the terminal")
	pflag.IntVarP(&opts.Shares, "shares", "n", 5, "Number of shares to produce")
	pflag.IntVarP(&opts.Threshold, "threshold", "m", 3, "Shares needed to recover the password")
	pflag.BoolVar(&opts.KeepPassword, "keep-password", false, "Keep key_password in the file after splitting")
	pflag.BoolVarP(&opts.Print, "print", "p", false, "Print the shares instead of writing the file")
	pflag.BoolVarP(&opts.Backup, "backup", "b", true, "Create backup of original file")
	noBackup := pflag.Bool("no-backup", false, "Disable backup creation")
	pflag.BoolVarP(&opts.Verbose, "verbose", "v", true, "Enable verbose output")
	pflag.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ltpa-shares v%s - Split the LTPA key password into Shamir shares\n\n", version)
		fmt.Fprintf(os.Stderr, "USAGE:\n")
		fmt.Fprintf(os.Stderr, "  ltpa-shares -f <config.yaml> [-n shares] [-m threshold] [options]\n\n")
		fmt.Fprintf(os.Stderr, "The password is taken from --password-file, the terminal (-P), key_password\n")
		fmt.Fprintf(os.Stderr, "in the configuration, or the keys bundle, in that order. It is checked\n")
		fmt.Fprintf(os.Stderr, "against the keys bundle before anything is written.\n\n")
		fmt.Fprintf(os.Stderr, "EXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  ltpa-shares -f ltpa.yaml -P\n")
		fmt.Fprintf(os.Stderr, "  ltpa-shares -f ltpa.yaml -n 3 -m 2 --no-backup\n")
		fmt.Fprintf(os.Stderr, "  ltpa-shares -f ltpa.yaml --print\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *noBackup {
		opts.Backup = false
	}
	return opts
}

func validateOptions(opts *Options) error {
	if opts.FilePath == "" {
		return fmt.Errorf("configuration file is required (-f flag)")
	}
	if opts.Threshold < 2 {
		return fmt.Errorf("threshold must be at least 2")
	}
	if opts.Shares < opts.Threshold {
		return fmt.Errorf("shares (%d) must not be fewer than the threshold (%d)", opts.Shares, opts.Threshold)
	}
	if opts.Shares > 255 {
		return fmt.Errorf("shares cannot exceed 255")
	}
	if _, err := os.Stat(opts.FilePath); err != nil {
		return fmt.Errorf("configuration file: %w", err)
	}
	return nil
}

func runSplit(opts *Options) error {
	cfg, err := config.LoadFile(opts.FilePath)
	if err != nil {
		return err
	}
	password, err := readKeyPassword(opts)
	if err != nil {
		return err
	}
	if password == "" {
		password = cfg.KeyPassword
	}
	if password == "" {
		kf, err := config.LoadKeysFile(cfg.KeysPath())
		if err != nil {
			return err
		}
		password = kf.Password
	}

	// A wrong password would produce shares nobody can use.
	cfg.KeyPassword = password
	km, err := cfg.KeyMaterial()
	if err != nil {
		return fmt.Errorf("password does not open %s: %w", cfg.KeysPath(), err)
	}
	if err := token.SelfTest(km); err != nil {
		return err
	}

	shares, err := token.SplitKeyPassword(password, opts.Shares, opts.Threshold)
	if err != nil {
		return err
	}

	if opts.Print {
		printShares(os.Stdout, shares)
		return nil
	}

	if opts.Backup {
		if err := createBackup(opts.FilePath); err != nil {
			if opts.Verbose {
				fmt.Printf("Warning: Failed to create backup: %v\n", err)
			}
		} else if opts.Verbose {
			fmt.Printf("✓ Created backup: %s.bak\n", opts.FilePath)
		}
	}

	if err := config.SetValue(opts.FilePath, sharesKey, shares); err != nil {
		return fmt.Errorf("failed to update %s: %w", opts.FilePath, err)
	}
	if !opts.KeepPassword {
		if err := config.DeleteValue(opts.FilePath, passwordKey); err != nil {
			return fmt.Errorf("failed to remove %s: %w", passwordKey, err)
		}
	}
	return nil
}

func printShares(w io.Writer, shares []string) {
	fmt.Fprintf(w, "%s:\n", sharesKey)
	for _, s := range shares {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

func readKeyPassword(opts *Options) (string, error) {
	if opts.PasswordFile != "" {
		data, err := os.ReadFile(opts.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", opts.PasswordFile, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	if !opts.Prompt {
		return "", nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Key password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func createBackup(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(filePath+".bak", data, 0600); err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	return nil
}
