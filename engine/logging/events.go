package logging

// Message types of the `backup --json` output.
const (
	MessageStatus        = "status"
	MessageSummary       = "summary"
	MessageError         = "error"
	MessageVerboseStatus = "verbose_status"
	MessageExitError     = "exit_error"
)

type BackupSummary struct {
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DirsNew             int     `json:"dirs_new"`
	DirsChanged         int     `json:"dirs_changed"`
	DirsUnmodified      int     `json:"dirs_unmodified"`
	DataBlobs           int     `json:"data_blobs"`
	TreeBlobs           int     `json:"tree_blobs"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`
}

type BackupStatus struct {
	PercentDone    float64  `json:"percent_done"`
	SecondsElapsed int      `json:"seconds_elapsed"`
	TotalFiles     int      `json:"total_files"`
	FilesDone      int      `json:"files_done"`
	TotalBytes     int64    `json:"total_bytes"`
	BytesDone      int64    `json:"bytes_done"`
	CurrentFiles   []string `json:"current_files"`
	ErrorCount     int      `json:"error_count"`
}

// ErrorDetail covers both the current `{"message": ...}` form and the older
// `{"Op": ..., "Path": ...}` form of restic error events.
type ErrorDetail struct {
	Message string `json:"message"`
	Op      string `json:"Op"`
	Path    string `json:"Path"`
}

// Event is the envelope of a single line of the backup output.
type Event struct {
	MessageType string `json:"message_type"`
	BackupStatus
	BackupSummary
	Error  *ErrorDetail `json:"error,omitempty"`
	During string       `json:"during,omitempty"`
	Item   string       `json:"item,omitempty"`
	Action string       `json:"action,omitempty"`
	// Code and Message are set on exit_error events.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage returns the most specific error description of an error event.
func (e Event) ErrorMessage() string {
	if e.Error == nil {
		return e.Message
	}
	if e.Error.Message != "" {
		return e.Error.Message
	}
	if e.Error.Op != "" {
		return e.Error.Op + " " + e.Error.Path
	}
	return e.Error.Path
}
