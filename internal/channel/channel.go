// Package channel defines the message channel the originator uses to talk to
// the worker fleet.
package channel

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/livinlefevreloca/originator/internal/job"
)

// ConnectionInfo holds transport parameters for the message channel.
// URL takes precedence over the individual fields when set.
type ConnectionInfo struct {
	URL            string `toml:"url" yaml:"url" json:"url"`
	Host           string `toml:"host" yaml:"host" json:"host"`
	Port           int    `toml:"port" yaml:"port" json:"port"`
	User           string `toml:"user" yaml:"user" json:"user"`
	Password       string `toml:"password" yaml:"password" json:"password"`
	VHost          string `toml:"vhost" yaml:"vhost" json:"vhost"`
	ConnectRetries int    `toml:"connect_retries" yaml:"connect_retries" json:"connect_retries"`
}

// URI returns the broker URI described by the connection info.
func (c ConnectionInfo) URI() string {
	if c.URL != "" {
		return c.URL
	}

	port := c.Port
	if port == 0 {
		port = 5672
	}

	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.VHost,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// Redacted returns a loggable description without credentials.
func (c ConnectionInfo) Redacted() string {
	u, err := url.Parse(c.URI())
	if err != nil {
		return fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return u.Redacted()
}

// Channel is an open connection to the worker fleet for one job run.
type Channel interface {
	// PublishFiles enqueues every file as a unit of work.
	PublishFiles(ctx context.Context, files []string) error

	// PublishJob announces the job to the worker managers.
	PublishJob(ctx context.Context, def *job.Definition) error

	// ReceivePayloads starts delivering raw worker replies to handler, in the
	// order the broker delivers them. It returns once delivery has started.
	ReceivePayloads(ctx context.Context, handler func([]byte)) error

	// Disconnect tears the run's resources down and closes the connection.
	Disconnect(ctx context.Context) error

	// Cancel tells workers the job is aborted and drops undelivered work.
	Cancel(ctx context.Context) error
}

// Dialer opens channels. onClosed is invoked at most once when the underlying
// connection closes, with a nil error for a requested disconnect.
type Dialer interface {
	Connect(ctx context.Context, info ConnectionInfo, onClosed func(error)) (Channel, error)
}
