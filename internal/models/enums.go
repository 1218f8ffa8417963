package models

// OwnershipStatus records whether the user has a local copy of an album.
type OwnershipStatus string

const (
	NotOwned    OwnershipStatus = "not_owned"
	Owned       OwnershipStatus = "owned"
	Downloading OwnershipStatus = "downloading"
)

func (s OwnershipStatus) Valid() bool {
	switch s {
	case NotOwned, Owned, Downloading:
		return true
	}
	return false
}

// AcquisitionSource records how an owned album was obtained.
type AcquisitionSource string

const (
	SourceUnknown           AcquisitionSource = "unknown"
	SourceMarketplace       AcquisitionSource = "marketplace"
	SourcePhysical          AcquisitionSource = "physical"
	SourceAutomatedDownload AcquisitionSource = "automated-download"
)

func (s AcquisitionSource) Valid() bool {
	switch s {
	case SourceUnknown, SourceMarketplace, SourcePhysical, SourceAutomatedDownload:
		return true
	}
	return false
}

// MatchStatus is the outcome of metadata matching for an album.
type MatchStatus string

const (
	MatchPending MatchStatus = "pending"
	Matched      MatchStatus = "matched"
	NeedsReview  MatchStatus = "needs_review"
	NoMatch      MatchStatus = "no_match"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, Matched, NeedsReview, NoMatch:
		return true
	}
	return false
}

// DownloadStatus tracks a [DownloadRequest].
type DownloadStatus string

const (
	DownloadPending    DownloadStatus = "pending"
	DownloadSearching  DownloadStatus = "searching"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"
)

func (s DownloadStatus) Valid() bool {
	switch s {
	case DownloadPending, DownloadSearching, DownloadInProgress, DownloadCompleted, DownloadFailed:
		return true
	}
	return false
}

// Active reports whether the request is still in flight.
func (s DownloadStatus) Active() bool {
	return s == DownloadPending || s == DownloadSearching || s == DownloadInProgress
}

// JobStatus is the lifecycle state of a [Job].
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s -> next is a legal step.
//
// pending -> running -> {completed, failed}, running -> running for progress,
// and pending -> failed for jobs cancelled before they were claimed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobRunning || next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// JobType is the closed set of work the executor knows how to run.
type JobType string

const (
	JobLibrarySync        JobType = "library-sync"
	JobMetadataMatchAll   JobType = "metadata-match-all"
	JobMetadataMatchOne   JobType = "metadata-match-one"
	JobCoverArtFetch      JobType = "cover-art-fetch"
	JobFilesystemScan     JobType = "filesystem-scan"
	JobDownloadStatusPoll JobType = "download-status-poll"
)

// AllJobTypes lists every [JobType] in a stable order.
func AllJobTypes() []JobType {
	return []JobType{
		JobLibrarySync, JobMetadataMatchAll, JobMetadataMatchOne,
		JobCoverArtFetch, JobFilesystemScan, JobDownloadStatusPoll,
	}
}

// ParseJobType validates s as a [JobType].
func ParseJobType(s string) (JobType, error) {
	t := JobType(s)
	if !t.Valid() {
		return "", invalid("unknown job type %q", s)
	}
	return t, nil
}

func (t JobType) Valid() bool {
	for _, known := range AllJobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Batch reports whether the job iterates over all items and isolates per-item failures.
func (t JobType) Batch() bool {
	return t == JobLibrarySync || t == JobMetadataMatchAll || t == JobFilesystemScan
}

// RequiresEntity reports whether the job targets one album.
func (t JobType) RequiresEntity() bool {
	return t == JobMetadataMatchOne || t == JobCoverArtFetch
}

func (t JobType) String() string { return string(t) }
