package disconnect

// StatusCode is an application error code borrowed from HTTP status values.
// It is used when closing connections and resetting streams.
type StatusCode uint64

const (
    StatusOK                  StatusCode = 200
    StatusInternalServerError StatusCode = 500
    StatusServiceUnavailable  StatusCode = 503
)

func (c StatusCode) Code() uint64 { return uint64(c) }

func (c StatusCode) String() string {
    switch c {
    case StatusOK:
        return "ok"
    case StatusInternalServerError:
        return "internal_server_error"
    case StatusServiceUnavailable:
        return "service_unavailable"
    default:
        return "unknown"
    }
}
