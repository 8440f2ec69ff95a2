package whisperx

// Config selects the model and device for transcription runs.
type Config struct {
	Model       string
	CUDAEnabled bool
	// VADMethod is "silero" (default) or "pyannote".
	VADMethod string
	// HFToken is forwarded only with pyannote VAD.
	HFToken string
}

const (
	DefaultModel      = "large-v3"
	UVXCommand        = "uvx"
	VADMethodSilero   = "silero"
	VADMethodPyannote = "pyannote"
)

const (
	pypiIndexURL = "https://pypi.org/simple"
	cudaIndexURL = "https://download.pytorch.org/whl/cu128"
)

// decodeFlags are the fixed decoding parameters passed on every run.
// Output is JSON only since LoadSegments reads nothing else.
var decodeFlags = []string{
	"--output_format", "json",
	"--segment_resolution", "sentence",
	"--batch_size", "4",
	"--chunk_size", "15",
	"--vad_onset", "0.08",
	"--vad_offset", "0.07",
	"--beam_size", "10",
	"--best_of", "10",
	"--temperature", "0.0",
	"--patience", "1.0",
}

// deviceFlags picks the torch device; CPU runs need float32.
func deviceFlags(cuda bool) []string {
	if cuda {
		return []string{"--device", "cuda"}
	}
	return []string{"--device", "cpu", "--compute_type", "float32"}
}

func indexFlags(cuda bool) []string {
	if cuda {
		return []string{"--index-url", cudaIndexURL, "--extra-index-url", pypiIndexURL}
	}
	return []string{"--index-url", pypiIndexURL}
}
