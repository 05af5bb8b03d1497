package protocol

import "fmt"

// ServerUnreachableError reports that a message could not be delivered to a
// server, usually because its session is not ready.
type ServerUnreachableError struct {
	ServerID string
	Reason   string
}

func (e *ServerUnreachableError) Error() string {
	return fmt.Sprintf("server %s unreachable: %s", e.ServerID, e.Reason)
}

// ServerNotFoundError reports a roster lookup failure.
type ServerNotFoundError struct {
	ServerID string
}

func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server %s not found", e.ServerID)
}

// JobNotFoundError reports a job lookup failure.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// TLSConfigError reports TLS material that is missing or unparsable. A
// session refuses to connect while it persists.
type TLSConfigError struct {
	ServerID string
	Path     string
	Reason   string
}

func (e *TLSConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("tls config for server %s: %s", e.ServerID, e.Reason)
	}
	return fmt.Sprintf("tls config for server %s: %s: %s", e.ServerID, e.Path, e.Reason)
}
