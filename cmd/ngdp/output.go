// Copyright (c) 2024 The ngdp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shell-reserve/ngdp/bpsv"
	"github.com/shell-reserve/ngdp/config"
)

// printDocument renders a parsed BPSV document in whichever of the four
// --output formats the caller asked for (spec §6 "--output
// text|json|json-pretty|bpsv").
func printDocument(doc *bpsv.Document, format config.OutputFormat) error {
	switch format {
	case config.OutputBPSV:
		os.Stdout.Write(doc.Emit())
		return nil
	case config.OutputJSON, config.OutputJSONPretty:
		rows := documentToMaps(doc)
		return printJSON(rows, format == config.OutputJSONPretty)
	default:
		printDocumentText(doc)
		return nil
	}
}

func documentToMaps(doc *bpsv.Document) []map[string]string {
	out := make([]map[string]string, 0, len(doc.Rows))
	for i := range doc.Rows {
		row := make(map[string]string, len(doc.Columns))
		for _, col := range doc.Columns {
			if v, ok := doc.Field(i, col.Name); ok {
				row[col.Name] = v.Raw()
			}
		}
		out = append(out, row)
	}
	return out
}

func printDocumentText(doc *bpsv.Document) {
	for i := range doc.Rows {
		for _, col := range doc.Columns {
			v, ok := doc.Field(i, col.Name)
			if !ok {
				continue
			}
			fmt.Printf("%s=%s ", col.Name, v.Raw())
		}
		fmt.Println()
	}
}

func printJSON(v interface{}, pretty bool) error {
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// printErr renders an error the way --output json expects: a structured
// payload rather than a bare Go error string (spec §7 "structured JSON
// error payload on --output json").
func printErr(err error, format config.OutputFormat) {
	if format == config.OutputJSON || format == config.OutputJSONPretty {
		payload := map[string]string{"error": err.Error()}
		_ = printJSON(payload, format == config.OutputJSONPretty)
		return
	}
	fmt.Fprintln(os.Stderr, "ngdp:", err)
}
