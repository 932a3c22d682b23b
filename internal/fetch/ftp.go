package fetch

import (
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
)

// FTPClient wraps anonymous FTP access for the labor-microdata mirror.
type FTPClient struct {
	host      string
	timeout   time.Duration
	appLogger *logger.Logger
}

func NewFTPClient(host string, timeoutSeconds int, appLogger *logger.Logger) *FTPClient {
	return &FTPClient{
		host:      host,
		timeout:   time.Duration(timeoutSeconds) * time.Second,
		appLogger: appLogger,
	}
}

func (f *FTPClient) connect() (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.host+":21", ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial to %s failed: %w", f.host, err)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp anonymous login to %s refused: %w", f.host, err)
	}
	return conn, nil
}

// List returns directory entries at the given path.
func (f *FTPClient) List(path string) ([]*ftp.Entry, error) {
	const component = "FTPClient"

	conn, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	entries, err := conn.List(path)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s failed: %w", path, err)
	}
	f.appLogger.Debug(component, "Directory listed: host=%s path=%s entries=%d", f.host, path, len(entries))
	return entries, nil
}

// Retrieve downloads a remote file in full.
func (f *FTPClient) Retrieve(path string) ([]byte, error) {
	const component = "FTPClient"

	conn, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, fmt.Errorf("ftp retrieve %s failed: %w", path, err)
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("ftp transfer of %s interrupted: %w", path, err)
	}
	f.appLogger.Info(component, "File retrieved: host=%s path=%s bytes=%d", f.host, path, len(raw))
	return raw, nil
}
