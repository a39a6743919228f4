package ffmpeg

// VideoInfo contains metadata about a video file. Durations are float
// seconds because every downstream computation (segment planning, chunk
// splitting) works in seconds, not time.Duration
type VideoInfo struct {
	FilePath        string
	Duration        float64
	Width           int
	Height          int
	FPS             float64
	Bitrate         int64
	VideoCodec      string
	HasAudio        bool
	AudioCodec      string
	AudioDuration   float64
	AudioSampleRate int
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)

// SegmentOptions defines a stream-copy cut of the source container
type SegmentOptions struct {
	Start        float64
	End          float64
	Output       string
	ProgressFunc ProgressFunc
}

// FrameOptions defines frame sampling into numbered image files
type FrameOptions struct {
	FPS          float64
	OutputDir    string
	ProgressFunc ProgressFunc
}

// AudioChunkOptions defines extraction of a time slice of the audio track
type AudioChunkOptions struct {
	Start        float64
	End          float64
	Output       string
	ProgressFunc ProgressFunc
}

// FramePattern is the raw sequential name the transcoder writes frames
// under before they are renamed to carry sample timestamps
const FramePattern = "frame_%05d.jpg"
