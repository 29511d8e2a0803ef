package plugin

import (
	"context"
	"fmt"
	"os"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/release"
)

// Setup event types carried in SetupEvent.Type.
const (
	SetupFetchRelease       = "fetch-release"
	SetupDownloadProgress   = "download-progress"
	SetupExtractionProgress = "extraction-progress"
	SetupReleaseReady       = "release-ready"
)

// Transient states announced on NewState while a release is acquired.
const (
	StateDownloading = "downloading"
	StateExtracting  = "extracting"
)

// SetupEvent is the payload of setup-event.
type SetupEvent struct {
	Type               string            `json:"type"`
	DownloadProgress   *release.Progress `json:"downloadProgress,omitempty"`
	ExtractionProgress *release.Progress `json:"extractionProgress,omitempty"`
	Release            *release.Release  `json:"release,omitempty"`
}

// DetermineReleaseForStart picks the release to run: the selected release if
// its file still exists, else the newest cached one, else the newest remote
// one, which is downloaded and unpacked while setup events are emitted.
func (p *Plugin) DetermineReleaseForStart(ctx context.Context) (*release.Release, error) {
	selected, err := p.GetSelectedRelease(ctx)
	if err != nil {
		p.logger.Warn("reading selected release", "plugin", p.Name(), "error", err)
	}
	if selected != nil {
		if _, err := os.Stat(selected.Location); err == nil {
			return selected, nil
		}
		p.logger.Warn("selected release missing on disk", "plugin", p.Name(), "location", selected.Location)
	}

	cached, err := p.updater.GetLatestCached(ctx)
	if err != nil {
		p.logger.Warn("reading release cache", "plugin", p.Name(), "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	p.events.Emit(events.SetupEvent, SetupEvent{Type: SetupFetchRelease})

	var downloading, extracting bool
	extract := true
	rel, err := p.updater.GetLatest(ctx, release.LatestOptions{
		Download: true,
		DownloadOptions: release.DownloadOptions{
			ExtractPackage: &extract,
			OnProgress: func(pr release.Progress) {
				if !downloading {
					downloading = true
					p.events.Emit(events.NewState, StateDownloading)
				}
				p.events.Emit(events.SetupEvent, SetupEvent{Type: SetupDownloadProgress, DownloadProgress: &pr})
			},
			OnExtractionProgress: func(pr release.Progress) {
				if !extracting {
					extracting = true
					p.events.Emit(events.NewState, StateExtracting)
				}
				p.events.Emit(events.SetupEvent, SetupEvent{Type: SetupExtractionProgress, ExtractionProgress: &pr})
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoReleaseFound, p.Name(), err)
	}
	if rel == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReleaseFound, p.Name())
	}

	p.events.Emit(events.SetupEvent, SetupEvent{Type: SetupReleaseReady, Release: rel})
	return rel, nil
}
