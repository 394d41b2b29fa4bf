// sealcreds encrypts a plaintext credentials file into the form syncd reads.
// Run: go run ./cmd/sealcreds -in plain.json -out credentials.json -key secret.key
//
// A missing key file is generated. Keep the plaintext file out of the
// deployment.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/ErlanBelekov/table-sync/internal/infrastructure/filestore"
)

func main() {
	in := flag.String("in", "", "plaintext credentials JSON (host, port, user, password, database)")
	out := flag.String("out", "credentials.json", "encrypted credentials file to write")
	keyPath := flag.String("key", "secret.key", "Fernet key file; generated when missing")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatalf("read %s: %v", *in, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Fatalf("parse %s: %v", *in, err)
	}
	plain := make(map[string]string, len(raw))
	for k, v := range raw {
		plain[strings.ToLower(k)] = v
	}

	key, generated, err := loadOrGenerateKey(*keyPath)
	if err != nil {
		log.Fatalf("key: %v", err)
	}

	sealed, err := filestore.Seal(plain, key)
	if err != nil {
		log.Fatalf("seal: %v", err)
	}
	body, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(*out, append(body, '\n'), 0o600); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}

	if generated {
		fmt.Printf("generated key %s\n", *keyPath)
	}
	fmt.Printf("wrote %d sealed values to %s\n", len(sealed), *out)
	fmt.Printf("run syncd with SECRET_KEY_FILE=%s\n", *keyPath)
}

func loadOrGenerateKey(path string) (*fernet.Key, bool, error) {
	key, err := filestore.ReadKey(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	key, err = filestore.GenerateKey(path)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}
