package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/searcher"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	flagSearchMode  string
	flagSearchLimit int

	flagBrowseTitle   string
	flagBrowseAuthor  string
	flagBrowseSubject string
	flagBrowseAny     string
	flagBrowseSort    string
	flagBrowseDesc    bool
	flagBrowsePage    int
	flagBrowsePerPage int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the library by meaning or keywords",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List books with filters and sorting",
	Args:  cobra.NoArgs,
	RunE:  runBrowse,
}

var bookCmd = &cobra.Command{
	Use:   "book <id>",
	Short: "Show one book",
	Args:  cobra.ExactArgs(1),
	RunE:  runBook,
}

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List every subject in the library",
	Args:  cobra.NoArgs,
	RunE:  runSubjects,
}

func init() {
	searchCmd.Flags().StringVarP(&flagSearchMode, "mode", "m", "auto", "auto, semantic, fts or keyword")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 20, "maximum number of results")

	browseCmd.Flags().StringVar(&flagBrowseTitle, "title", "", "title contains")
	browseCmd.Flags().StringVar(&flagBrowseAuthor, "author", "", "author contains")
	browseCmd.Flags().StringVar(&flagBrowseSubject, "subject", "", "has exactly this subject")
	browseCmd.Flags().StringVar(&flagBrowseAny, "any", "", "title, author, description or subject contains")
	browseCmd.Flags().StringVar(&flagBrowseSort, "sort", storage.SortTitle, "title, author or year")
	browseCmd.Flags().BoolVar(&flagBrowseDesc, "desc", false, "sort descending")
	browseCmd.Flags().IntVar(&flagBrowsePage, "page", 1, "page number")
	browseCmd.Flags().IntVar(&flagBrowsePerPage, "per-page", storage.DefaultPerPage, "books per page")

	rootCmd.AddCommand(searchCmd, browseCmd, bookCmd, subjectsCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	mode, err := searcher.ParseMode(flagSearchMode)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	query := strings.Join(args, " ")
	resp, err := a.Searcher.Search(cmd.Context(), searcher.Request{Query: query, Mode: mode, Limit: flagSearchLimit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(out, resp)
	}
	if resp.FellBack {
		fmt.Fprintln(cmd.ErrOrStderr(), "embedding model not installed; showing keyword matches")
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", query)
		return nil
	}
	printBooks(out, resp.Results, resp.Mode == searcher.ModeSemantic)
	return nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	req := storage.BrowseRequest{
		SortBy:  flagBrowseSort,
		SortDir: storage.SortAsc,
		Page:    flagBrowsePage,
		PerPage: flagBrowsePerPage,
	}
	if flagBrowseDesc {
		req.SortDir = storage.SortDesc
	}
	addFilter := func(field, op, value string) {
		if value != "" {
			req.Filters = append(req.Filters, storage.Filter{Field: field, Operator: op, Value: value})
		}
	}
	addFilter(storage.FieldTitle, storage.OpContains, flagBrowseTitle)
	addFilter(storage.FieldAuthor, storage.OpContains, flagBrowseAuthor)
	addFilter(storage.FieldSubject, storage.OpHas, flagBrowseSubject)
	addFilter(storage.FieldAll, storage.OpContains, flagBrowseAny)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	page, err := a.Searcher.Browse(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(out, page)
	}
	printBooks(out, page.Items, false)
	fmt.Fprintf(out, "\npage %d of %d (%d books)\n", page.Page, page.TotalPages, page.Total)
	return nil
}

func runBook(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	book, err := a.Searcher.Book(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("book %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(out, book)
	}

	fmt.Fprintf(out, "%s\n", book.Title)
	if len(book.Authors) > 0 {
		fmt.Fprintf(out, "by %s\n", strings.Join(book.Authors, ", "))
	}
	fmt.Fprintf(out, "\nid:        %s\n", book.ID)
	if book.PercentRead != nil {
		fmt.Fprintf(out, "read:      %d%%\n", *book.PercentRead)
	}
	fmt.Fprintf(out, "embedded:  %v\n", book.Embedded)
	if e := book.Enrichment; e != nil {
		if e.PublishYear != nil {
			fmt.Fprintf(out, "published: %d\n", *e.PublishYear)
		}
		if e.ISBN != "" {
			fmt.Fprintf(out, "isbn:      %s\n", e.ISBN)
		}
		if len(e.Subjects) > 0 {
			fmt.Fprintf(out, "subjects:  %s\n", strings.Join(e.Subjects, ", "))
		}
		if e.Description != "" {
			fmt.Fprintf(out, "\n%s\n", e.Description)
		}
	}
	return nil
}

func runSubjects(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	subjects, err := a.Searcher.Subjects(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), subjects)
	}
	for _, s := range subjects {
		fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}

func printBooks(w io.Writer, books []*types.Book, withScore bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if withScore {
		fmt.Fprintln(tw, "SCORE\tID\tTITLE\tAUTHORS")
	} else {
		fmt.Fprintln(tw, "ID\tTITLE\tAUTHORS")
	}
	for _, b := range books {
		authors := strings.Join(b.Authors, ", ")
		if withScore && b.Score != nil {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", *b.Score, b.ID, b.Title, authors)
			continue
		}
		if withScore {
			fmt.Fprintf(tw, "-\t%s\t%s\t%s\n", b.ID, b.Title, authors)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ID, b.Title, authors)
	}
	_ = tw.Flush()
}
