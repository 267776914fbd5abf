package docker

import (
	"bytes"
	"io"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPort(t *testing.T) {
	ports := nat.PortMap{
		"25575/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "35575"}},
		"25565/tcp": []nat.PortBinding{{HostIP: "::", HostPort: ""}, {HostIP: "0.0.0.0", HostPort: "25565"}},
	}

	got, err := HostPort(ports, 25575)
	require.NoError(t, err)
	assert.Equal(t, 35575, got)

	got, err = HostPort(ports, 25565)
	require.NoError(t, err)
	assert.Equal(t, 25565, got)

	_, err = HostPort(ports, 19132)
	assert.ErrorIs(t, err, ErrPortNotPublished)
}

func TestHostPort_BadBinding(t *testing.T) {
	_, err := HostPort(nat.PortMap{"25575/tcp": {{HostPort: "abc"}}}, 25575)
	assert.Error(t, err)
}

func TestDemux(t *testing.T) {
	var framed bytes.Buffer
	stdout := stdcopy.NewStdWriter(&framed, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&framed, stdcopy.Stderr)
	_, _ = stdout.Write([]byte("[12:00:00] [Server thread/INFO]: <Alice> hi\n"))
	_, _ = stderr.Write([]byte("warning\n"))

	r := Demux(io.NopCloser(&framed))
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "[12:00:00] [Server thread/INFO]: <Alice> hi\nwarning\n", string(out))
}
