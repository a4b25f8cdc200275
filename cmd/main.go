package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/stylelens-backend/internal/app"
	"github.com/yungbote/stylelens-backend/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: stylelens <image-url|gs-uri|path>")
		os.Exit(1)
	}
	imageRef := os.Args[1]

	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	job, err := a.Repos.Jobs.Create(ctx, nil, &types.AnalysisJob{
		SourceImageURL: imageRef,
		Status:         types.JobStatusPending,
	})
	if err != nil {
		a.Log.Error("Failed to create analysis job", "error", err.Error())
		a.Close()
		os.Exit(1)
	}
	a.Log.Info("Created analysis job", "job_id", job.ID.String(), "image", imageRef)

	res, err := a.Orchestrator.RunAnalysis(ctx, job.ID, imageRef)
	if err != nil {
		a.Log.Error("Analysis failed", "job_id", job.ID.String(), "error", err.Error())
		a.Close()
		os.Exit(1)
	}

	a.Log.Info("Analysis finished",
		"job_id", job.ID.String(),
		"items", res.ItemCount,
		"succeeded", res.SucceededCount,
		"links", res.LinkCount)
	a.Close()
}
