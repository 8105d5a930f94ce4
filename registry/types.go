package registry

// TaskStatus is the closed set of registry task statuses.
type TaskStatus string

const (
	StatusCreated        TaskStatus = "created"
	StatusExtracting     TaskStatus = "extracting"
	StatusConverting     TaskStatus = "converting"
	StatusExtractingInfo TaskStatus = "extracting_info"
	StatusAggregating    TaskStatus = "aggregating"
	StatusCompleted      TaskStatus = "completed"
	StatusFailed         TaskStatus = "failed"
)

// FileStatus is the lifecycle state of a parseable file record.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// Task is a snapshot of a parsing task as stored in the registry.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"taskName"`
	UserID         string     `json:"userId"`
	Status         TaskStatus `json:"taskStatus"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	InvalidFiles   int        `json:"invalidFiles"`
	JSONFilePath   string     `json:"jsonFilePath,omitempty"`
	SheetFilePath  string     `json:"sheetFilePath,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// ParseableFile is a registry record describing one source object to parse.
type ParseableFile struct {
	BucketName    string     `json:"bucketName"`
	FileName      string     `json:"fileName"`
	FilePath      string     `json:"filePath"`
	OriginalName  string     `json:"originalName"`
	ContentType   string     `json:"contentType"`
	Size          int64      `json:"size"`
	Status        FileStatus `json:"status"`
	ParsingTaskID string     `json:"parsingTaskId"`
}
