package rules

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
)

// Updater downloads the configured Suricata ruleset and unpacks the .rules
// files into the rules directory. Suricata itself picks the files up on its
// next reload; this side only keeps the directory fresh.
type Updater struct {
	URL  string
	Dir  string
	http *retryablehttp.Client
	log  *slog.Logger
}

func NewUpdater(url, dir string, logger *slog.Logger) *Updater {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Updater{URL: url, Dir: dir, http: client, log: logger}
}

// Update runs one download-and-unpack cycle. A failed cycle is logged and
// skipped; the stale ruleset stays in place until the next schedule.
func (u *Updater) Update(ctx context.Context) {
	if err := u.update(ctx); err != nil {
		u.log.Warn("rule update failed", "url", u.URL, "err", err)
		return
	}
	u.log.Info("rule update completed", "dir", u.Dir)
}

func (u *Updater) update(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	res, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("download ruleset: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("download ruleset: status %d", res.StatusCode)
	}

	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}

	gz, err := gzip.NewReader(res.Body)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	return u.extract(gz)
}

// extract writes every .rules member of the tar stream into Dir via a
// temp-file-and-rename so a half-written download never clobbers a good
// ruleset.
func (u *Updater) extract(r io.Reader) error {
	tr := tar.NewReader(r)
	written := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".rules") {
			continue
		}
		name := filepath.Base(hdr.Name)
		if err := u.writeRuleFile(name, tr); err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		return fmt.Errorf("archive contained no .rules files")
	}
	u.log.Info("rules extracted", "files", written)
	return nil
}

func (u *Updater) writeRuleFile(name string, r io.Reader) error {
	tmp, err := os.CreateTemp(u.Dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp rule file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(u.Dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("install %s: %w", name, err)
	}
	return nil
}
