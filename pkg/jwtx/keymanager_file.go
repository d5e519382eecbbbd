package jwtx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/northbridgehq/gatepass/pkg/slogx"
)

// FileKeyManagerOptions configures a KeyManager that loads externally
// provisioned PEM private keys from a directory.
type FileKeyManagerOptions struct {
	// Dir holds one PEM-encoded private key per *.pem file. The key id for
	// each signer is the file name without the .pem suffix.
	Dir string

	// Algorithm every key in Dir is expected to use.
	Algorithm string

	// Issuer is the issuer claim (iss) that will be validated in tokens.
	Issuer string

	// Audience is the list of audience values (aud) that will be validated.
	// Empty slice means no audience validation.
	Audience []string

	// Watch reloads the directory when its contents change, so keys can be
	// rotated by swapping files without a restart.
	Watch bool

	// Debounce coalesces bursts of file events into one reload.
	// Defaults to 500ms.
	Debounce time.Duration
}

// NewFileKeyManager creates a KeyManager backed by operator-provisioned key
// files. This is the intended production mode: private key material never
// transits the database and rotation is a file swap.
//
// When opts.Watch is set, a watcher goroutine reloads the key set on
// directory changes until ctx is cancelled.
func NewFileKeyManager(ctx context.Context, opts FileKeyManagerOptions) (*KeyManager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("jwtx: Dir is required for file key manager")
	}
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}

	signers, err := loadSignersFromDir(opts.Dir, opts.Algorithm)
	if err != nil {
		return nil, err
	}

	keyset := NewKeySet()
	for _, s := range signers {
		if err := keyset.AddSigner(s); err != nil {
			return nil, fmt.Errorf("jwtx: failed to add key %s to keyset: %w", s.KID(), err)
		}
	}

	verifier, err := NewCommonVerifier(opts.Algorithm, keyset, opts.Issuer, opts.Audience)
	if err != nil {
		return nil, err
	}

	km := &KeyManager{
		Verifier:  verifier,
		KeySet:    keyset,
		algorithm: opts.Algorithm,
		signers:   signers,
	}

	if opts.Watch {
		if err := km.watchKeyDir(ctx, opts); err != nil {
			return nil, fmt.Errorf("jwtx: failed to watch key dir: %w", err)
		}
	}

	return km, nil
}

// loadSignersFromDir builds a signer per *.pem file in dir.
func loadSignersFromDir(dir, algorithm string) ([]Signer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("jwtx: read key dir: %w", err)
	}

	var signers []Signer
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}

		pemData, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("jwtx: read key file %s: %w", entry.Name(), err)
		}

		kid := strings.TrimSuffix(entry.Name(), ".pem")
		signer, err := createSignerFromPEM(algorithm, kid, pemData)
		if err != nil {
			return nil, fmt.Errorf("jwtx: load key %s: %w", entry.Name(), err)
		}

		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("jwtx: no *.pem keys found in %s", dir)
	}

	// Deterministic order so reloads with unchanged contents are stable
	sort.Slice(signers, func(i, j int) bool { return signers[i].KID() < signers[j].KID() })

	return signers, nil
}

// watchKeyDir reloads the signer set whenever the key directory changes.
// Events are debounced so a rotation touching several files triggers a
// single reload.
func (km *KeyManager) watchKeyDir(ctx context.Context, opts FileKeyManagerOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(opts.Dir); err != nil {
		watcher.Close()
		return err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	go func() {
		defer watcher.Close()

		log := slogx.FromContext(ctx).With("dir", opts.Dir)

		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Reset(debounce)
				} else {
					timer = time.NewTimer(debounce)
					fire = timer.C
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("key dir watcher error", "err", err)

			case <-fire:
				timer = nil
				fire = nil

				signers, err := loadSignersFromDir(opts.Dir, opts.Algorithm)
				if err != nil {
					// Keep the previous keys when the new set fails to load
					log.Error("key dir reload failed, keeping previous keys", "err", err)
					continue
				}
				if err := km.ReplaceSigners(signers); err != nil {
					log.Error("key replacement failed", "err", err)
					continue
				}
				log.Info("signing keys reloaded", "count", len(signers))

			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	return nil
}
