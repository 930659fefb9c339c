// Command esridump is a one-shot CLI over the dumper package: point it at a layer URL, get a
// GeoJSON FeatureCollection or newline-delimited features on stdout or a file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/nikhilvedi/esrigeo/config"
	"github.com/nikhilvedi/esrigeo/internal/auth"
	"github.com/nikhilvedi/esrigeo/internal/dumper"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	cfg := config.Load()

	fs := flag.NewFlagSet("esridump", flag.ExitOnError)
	outfile := fs.String("outfile", "", "output file path (defaults to stdout)")
	jsonlines := fs.Bool("jsonlines", false, "write one JSON feature per line instead of a FeatureCollection")
	esrijson := fs.Bool("esrijson", false, "emit raw Esri JSON features instead of converting to GeoJSON")
	fields := fs.String("fields", "", "comma-separated list of fields to request (default: all)")
	where := fs.String("where", "", "a where clause ANDed onto every generated query")
	geometry := fs.Bool("geometry", true, "request feature geometry")
	outSR := fs.String("out-sr", "", "output spatial reference WKID")
	paginateOID := fs.Bool("paginate-oid", false, "force OID-based pagination even if the server supports resultOffset")
	pageSize := fs.Int("page-size", cfg.DefaultMaxPageSize, "maximum features requested per page")
	timeout := fs.Int("timeout", cfg.DefaultTimeoutSeconds, "per-request timeout in seconds")
	proxy := fs.String("proxy", cfg.ProxyURL, "proxy URL prefix rewrite, e.g. https://proxy.example.com/")
	useOnlyGet := fs.Bool("get-only", false, "send every request as GET, with query parameters in the URL instead of a POST body")
	token := fs.String("token", "", "pre-minted ArcGIS token to attach to every request")
	username := fs.String("username", "", "ArcGIS username for secured layers; a token is minted when set")
	password := fs.String("password", "", "ArcGIS password, used with -username")
	tokenURL := fs.String("token-url", "", "token endpoint for on-premise portals (default: ArcGIS Online)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: esridump [flags] <layer-url>")
	}
	layerURL := fs.Arg(0)

	out := stdout
	if *outfile != "" {
		f, err := os.Create(*outfile)
		if err != nil {
			return fmt.Errorf("failed to open outfile: %w", err)
		}
		defer f.Close()
		out = f
	}

	extra := map[string]string{}
	if *where != "" {
		extra["where"] = *where
	}
	if *token != "" {
		extra["token"] = *token
	}
	if *username != "" {
		svc := auth.NewService(auth.Config{
			Username: *username,
			Password: *password,
			Referer:  layerURL,
			TokenURL: *tokenURL,
		})
		merged, err := auth.WithToken(context.Background(), svc, extra)
		if err != nil {
			return fmt.Errorf("failed to mint arcgis token: %w", err)
		}
		extra = merged
	}

	outputFormat := dumper.OutputGeoJSON
	if *esrijson {
		outputFormat = dumper.OutputEsriJSON
	}

	dumpCfg := dumper.Config{
		LayerURL:        layerURL,
		ExtraQueryArgs:  extra,
		TimeoutSeconds:  *timeout,
		OutFields:       strings.ReplaceAll(*fields, " ", ""),
		RequestGeometry: *geometry,
		OutSR:           *outSR,
		ProxyURL:        *proxy,
		PaginateOID:     *paginateOID,
		MaxPageSize:     *pageSize,
		UseOnlyGet:      *useOnlyGet,
		PauseSeconds:    cfg.DefaultPauseSeconds,
		RequestsToPause: cfg.DefaultRequestsToPause,
		NumRetry:        cfg.DefaultNumRetry,
		OutputFormat:    outputFormat,
	}

	d, err := dumper.New(context.Background(), dumpCfg)
	if err != nil {
		return fmt.Errorf("failed to start dump: %w", err)
	}

	enc := json.NewEncoder(out)

	if !*jsonlines {
		if _, err := fmt.Fprint(out, `{"type":"FeatureCollection","features":[`, "\n"); err != nil {
			return err
		}
	}

	first := true
	err = d.ForEach(context.Background(), func(item dumper.Item) error {
		if !*jsonlines && !first {
			if _, err := fmt.Fprint(out, ",\n"); err != nil {
				return err
			}
		}
		first = false

		if item.GeoJSON != nil {
			return enc.Encode(item.GeoJSON)
		}
		return enc.Encode(item.Raw)
	})
	if err != nil {
		return fmt.Errorf("dump failed: %w", err)
	}

	if !*jsonlines {
		if _, err := fmt.Fprint(out, "]}\n"); err != nil {
			return err
		}
	}

	return nil
}
