package ports

// Workspace is the per-submission filesystem scope.
type Workspace interface {
	Root() string
	ArchivePath() string
	ResultsDir() string
	ScratchDir() string
	WriteArchive(data []byte) error
	Release()
}

// WorkspaceManager allocates workspaces.
type WorkspaceManager interface {
	Acquire(submissionID string) (Workspace, error)
}
