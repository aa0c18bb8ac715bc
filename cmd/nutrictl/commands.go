package main

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nutri-snap-go/internal/model"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var contentType string

	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a food photo for nutrition analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			if contentType == "" {
				contentType = detectContentType(args[0], data)
			}

			res, err := c.Initiate(cmd.Context(), filepath.Base(args[0]), contentType)
			if err != nil {
				return fmt.Errorf("initiate upload: %w", err)
			}
			if err := c.PutObject(cmd.Context(), res.URL, data, contentType); err != nil {
				return fmt.Errorf("upload object: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (id %s)\n", filepath.Base(args[0]), res.UploadID)
			if !wait {
				return nil
			}
			result, err := c.WaitForResult(cmd.Context(), res.UploadID, defaultPollInterval, nil)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the analysis to finish")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Override the detected image content type")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show an upload and its nutrition items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Poll an upload until it succeeds or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var last model.UploadStatus
			result, err := c.WaitForResult(cmd.Context(), args[0], interval, func(r *model.UploadResult) {
				if r.UploadFile.Status != last {
					last = r.UploadFile.Status
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), last)
				}
			})
			if err != nil {
				return err
			}
			printResult(out, result)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "Polling interval")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			files, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No uploads")
				return nil
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{f.ID, f.Name, string(f.Status), f.FailureReason, f.CreatedAt.Local().Format(time.DateTime)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Status", "Reason", "Created"},
				rows,
				nil,
			))
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an upload and its nutrition items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			deleted, err := c.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", deleted.ID, deleted.Name)
			return nil
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search your nutrition items by food name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			hits, err := c.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matches")
				return nil
			}
			rows := make([][]string, 0, len(hits))
			for _, h := range hits {
				rows = append(rows, []string{h.Name, h.FileName, itoa(h.Calories), itoa(h.Protein), itoa(h.Fat), itoa(h.Carbs), h.UploadID})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Food", "Photo", "kcal", "Protein", "Fat", "Carbs", "Upload"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func printResult(out io.Writer, r *model.UploadResult) {
	f := r.UploadFile
	fmt.Fprintf(out, "%s  %s  %s", f.ID, f.Name, f.Status)
	if f.FailureReason != "" {
		fmt.Fprintf(out, " (%s)", f.FailureReason)
	}
	fmt.Fprintln(out)
	if f.Status != model.StatusSuccess {
		return
	}
	if len(r.Items) == 0 {
		fmt.Fprintln(out, "No food recognised")
		return
	}

	rows := make([][]string, 0, len(r.Items)+1)
	var total model.NutritionItem
	for _, it := range r.Items {
		rows = append(rows, []string{it.Name, itoa(it.Calories), itoa(it.Protein), itoa(it.Fat), itoa(it.Carbs)})
		total.Calories += it.Calories
		total.Protein += it.Protein
		total.Fat += it.Fat
		total.Carbs += it.Carbs
	}
	if len(r.Items) > 1 {
		rows = append(rows, []string{"Total", itoa(total.Calories), itoa(total.Protein), itoa(total.Fat), itoa(total.Carbs)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Food", "kcal", "Protein (g)", "Fat (g)", "Carbs (g)"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}

func detectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); strings.HasPrefix(ct, "image/") {
		return strings.SplitN(ct, ";", 2)[0]
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
