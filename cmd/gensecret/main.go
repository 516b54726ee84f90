package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultKeyBytesLen = 32

func main() {
	if err := run(os.Stdout, rand.Reader, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secrets: %v\n", err)
		os.Exit(1)
	}
}

// Print fresh SECRET_KEY and INTERNAL_KEY in .env format
func run(w io.Writer, random io.Reader, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "b", defaultKeyBytesLen, "Random bytes per key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *size < 16 {
		return fmt.Errorf("key must be at least 16 bytes, got %d", *size)
	}

	for _, name := range []string{"SECRET_KEY", "INTERNAL_KEY"} {
		b := make([]byte, *size)
		if _, err := io.ReadFull(random, b); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", name, hex.EncodeToString(b)); err != nil {
			return err
		}
	}
	return nil
}
