// Package publish uploads rendered charts to an FTP server.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const dialTimeout = 30 * time.Second

type FTPConfig struct {
	Addr      string
	User      string
	Password  string
	RemoteDir string
}

type FTP struct {
	cfg FTPConfig
}

func NewFTP(cfg FTPConfig) *FTP {
	return &FTP{cfg: cfg}
}

// remotePath joins the configured directory and the file's base name using
// forward slashes regardless of the local OS.
func remotePath(dir, local string) string {
	name := filepath.Base(local)
	dir = strings.TrimRight(strings.ReplaceAll(dir, "\\", "/"), "/")
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// Upload copies each local file to the remote directory. Each file is stored
// under a temporary name and renamed into place. One failed file does not
// stop the others; the first error is returned.
func (f *FTP) Upload(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}

	conn, err := ftp.Dial(f.cfg.Addr, ftp.DialWithTimeout(dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := f.cfg.User, f.cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	if f.cfg.RemoteDir != "" {
		// MakeDir fails when the directory exists; the Stor below reports
		// any real problem.
		_ = conn.MakeDir(f.cfg.RemoteDir)
	}

	var firstErr error
	for _, local := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.store(conn, local); err != nil {
			slog.Warn("publish: upload failed", "file", local, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slog.Debug("publish: uploaded", "file", local)
	}
	return firstErr
}

func (f *FTP) store(conn *ftp.ServerConn, local string) error {
	file, err := os.Open(local)
	if err != nil {
		return err
	}
	defer file.Close()

	dst := remotePath(f.cfg.RemoteDir, local)
	tmp := dst + ".part"
	if err := conn.Stor(tmp, file); err != nil {
		return fmt.Errorf("ftp stor %s: %w", tmp, err)
	}
	if err := conn.Rename(tmp, dst); err != nil {
		return fmt.Errorf("ftp rename %s: %w", dst, err)
	}
	return nil
}
