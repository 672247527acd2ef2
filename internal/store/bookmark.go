package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// ErrStaleBookmark is returned when a token no longer grants access to the
// file it was created for.
var ErrStaleBookmark = errors.New("stale bookmark")

// Bookmarker turns a user-chosen file into a token that can be resolved back
// to a readable path after a restart.
type Bookmarker interface {
	Create(path string) ([]byte, error)
	Resolve(token []byte) (string, error)
}

// NewBookmarker returns a portal bookmarker when running inside a Flatpak
// sandbox with the document portal available, and a file bookmarker
// otherwise.
func NewBookmarker(logger *slog.Logger) Bookmarker {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat("/.flatpak-info"); err == nil {
		p, err := NewPortalBookmarker()
		if err == nil {
			logger.Debug("using document portal bookmarks")
			return p
		}
		logger.Warn("document portal unavailable, falling back to file bookmarks", "error", err)
	}
	return FileBookmarker{}
}

// FileBookmarker records the file's device and inode. The token goes stale
// when the file is removed or replaced.
type FileBookmarker struct{}

type fileToken struct {
	Path  string `json:"path"`
	Dev   uint64 `json:"dev"`
	Inode uint64 `json:"ino"`
}

func (FileBookmarker) Create(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return nil, fmt.Errorf("bookmark %s: %w", abs, err)
	}
	return json.Marshal(fileToken{Path: abs, Dev: uint64(st.Dev), Inode: st.Ino})
}

func (FileBookmarker) Resolve(token []byte) (string, error) {
	var tok fileToken
	if err := json.Unmarshal(token, &tok); err != nil || tok.Path == "" {
		return "", fmt.Errorf("%w: malformed token", ErrStaleBookmark)
	}
	var st unix.Stat_t
	if err := unix.Stat(tok.Path, &st); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaleBookmark, err)
	}
	if uint64(st.Dev) != tok.Dev || st.Ino != tok.Inode {
		return "", fmt.Errorf("%w: %s was replaced", ErrStaleBookmark, tok.Path)
	}
	if err := unix.Access(tok.Path, unix.R_OK); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaleBookmark, err)
	}
	return tok.Path, nil
}

const (
	documentsDest      = "org.freedesktop.portal.Documents"
	documentsPath      = "/org/freedesktop/portal/documents"
	documentsInterface = "org.freedesktop.portal.Documents"
)

// PortalBookmarker exports files through the XDG document portal. The token
// is the portal document id, which survives restarts of the sandboxed app.
type PortalBookmarker struct {
	conn *dbus.Conn
}

// NewPortalBookmarker connects to the session bus and checks the portal
// answers.
func NewPortalBookmarker() (*PortalBookmarker, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	p := &PortalBookmarker{conn: conn}
	if _, err := p.mountPoint(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PortalBookmarker) object() dbus.BusObject {
	return p.conn.Object(documentsDest, documentsPath)
}

func (p *PortalBookmarker) mountPoint() (string, error) {
	var mount []byte
	if err := p.object().Call(documentsInterface+".GetMountPoint", 0).Store(&mount); err != nil {
		return "", fmt.Errorf("document portal mount point: %w", err)
	}
	return strings.TrimRight(string(mount), "\x00"), nil
}

func (p *PortalBookmarker) Create(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bookmark %s: %w", path, err)
	}
	defer f.Close()

	// Add(o_path_fd h, reuse_existing b, persistent b) -> doc_id s
	var docID string
	err = p.object().Call(documentsInterface+".Add", 0,
		dbus.UnixFD(f.Fd()), true, true,
	).Store(&docID)
	if err != nil {
		return nil, fmt.Errorf("export %s to document portal: %w", path, err)
	}
	return []byte(docID), nil
}

func (p *PortalBookmarker) Resolve(token []byte) (string, error) {
	docID := string(token)
	if docID == "" {
		return "", fmt.Errorf("%w: empty document id", ErrStaleBookmark)
	}
	// Info(doc_id s) -> (path ay, apps a{sas})
	var hostPath []byte
	var apps map[string][]string
	if err := p.object().Call(documentsInterface+".Info", 0, docID).Store(&hostPath, &apps); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaleBookmark, err)
	}
	mount, err := p.mountPoint()
	if err != nil {
		return "", err
	}
	name := filepath.Base(strings.TrimRight(string(hostPath), "\x00"))
	resolved := filepath.Join(mount, docID, name)
	if _, err := os.Stat(resolved); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaleBookmark, err)
	}
	return resolved, nil
}

// Close releases the bus connection.
func (p *PortalBookmarker) Close() error {
	return p.conn.Close()
}
