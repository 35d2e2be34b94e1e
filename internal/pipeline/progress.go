package pipeline

// Stage weights for the job-level percentage during the convert stage.
// Video encoding dominates wall-clock cost regardless of input, so the
// weights are policy constants rather than derived per job. The remaining
// 10% is awarded only when the manifest is written.
const (
	videoWeight    = 0.6
	audioWeight    = 0.3
	preFinalizeCap = 90.0
)

// downloadProgressCeiling is the top of the band the download stage reports
// into. The transfer fraction is scaled into [0, downloadProgressCeiling]
// while the convert aggregate runs on the full 0-90 scale, keeping the
// job-level percentage on one non-decreasing axis across the stage boundary.
const downloadProgressCeiling = 30.0

// Aggregate combines per-task percentages (one video task, any number of
// audio tasks, each in [0,100]) into a single job-level percentage. The
// audio share is the equal-weight mean of all audio tasks; an empty audio
// list contributes zero. The result never exceeds preFinalizeCap: the last
// 10% belongs to the finalize stage.
func Aggregate(video float64, audio []float64) float64 {
	video = clampTask(video)

	mean := 0.0
	if len(audio) > 0 {
		sum := 0.0
		for _, a := range audio {
			sum += clampTask(a)
		}
		mean = sum / float64(len(audio))
	}

	total := videoWeight*video + audioWeight*mean
	if total > preFinalizeCap {
		total = preFinalizeCap
	}
	return total
}

func clampTask(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
