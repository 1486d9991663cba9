// Command variant is a manual smoke-test harness for the variant and
// jsonvariant packages: encode a JSON document to the binary format, or
// dump an already-encoded pair of buffers back to JSON-ish text.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/cmu-db/variant-go/jsonvariant"
	"github.com/cmu-db/variant-go/variant"
)

func main() {
	app := &cli.App{
		Name:        "variant",
		Description: "encode JSON into the Variant binary format and inspect the result",
		Commands: []*cli.Command{
			newCmdEncode(),
			newCmdDump(),
		},
	}

	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCmdEncode() *cli.Command {
	var metaPath, valPath string
	return &cli.Command{
		Name:      "encode",
		Usage:     "encode a JSON document into a metadata/value buffer pair",
		ArgsUsage: "<json-path|->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "metadata-out",
				Usage:       "path to write the metadata buffer to",
				Value:       "metadata.bin",
				Destination: &metaPath,
			},
			&cli.StringFlag{
				Name:        "value-out",
				Usage:       "path to write the value buffer to",
				Value:       "value.bin",
				Destination: &valPath,
			},
		},
		Action: func(c *cli.Context) error {
			jsonPath := c.Args().First()
			in := os.Stdin
			if jsonPath != "" && jsonPath != "-" {
				f, err := os.Open(jsonPath)
				if err != nil {
					return fmt.Errorf("opening %s: %w", jsonPath, err)
				}
				defer f.Close()
				in = f
			}

			doc, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("reading JSON input: %w", err)
			}

			metaFile, err := os.Create(metaPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", metaPath, err)
			}
			defer metaFile.Close()

			valFile, err := os.Create(valPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", valPath, err)
			}
			defer valFile.Close()

			if err := jsonvariant.EncodeJSON(doc, metaFile, valFile); err != nil {
				return fmt.Errorf("encoding: %w", err)
			}
			fmt.Printf("wrote %s and %s\n", metaPath, valPath)
			return nil
		},
	}
}

func newCmdDump() *cli.Command {
	var metaPath, valPath string
	return &cli.Command{
		Name:  "dump",
		Usage: "decode a metadata/value buffer pair and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "metadata",
				Usage:       "path to the metadata buffer",
				Value:       "metadata.bin",
				Destination: &metaPath,
			},
			&cli.StringFlag{
				Name:        "value",
				Usage:       "path to the value buffer",
				Value:       "value.bin",
				Destination: &valPath,
			},
		},
		Action: func(c *cli.Context) error {
			meta, err := os.ReadFile(metaPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", metaPath, err)
			}
			val, err := os.ReadFile(valPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", valPath, err)
			}

			r, err := variant.NewReader(meta, val)
			if err != nil {
				return fmt.Errorf("decoding: %w", err)
			}

			out, err := toJSONValue(r)
			if err != nil {
				return fmt.Errorf("walking value: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// toJSONValue walks a Reader into a plain Go value suitable for
// json.Marshal, for the dump subcommand's human-readable output.
func toJSONValue(r *variant.Reader) (any, error) {
	typ, err := r.Type()
	if err != nil {
		return nil, err
	}
	switch typ {
	case variant.TypeNull:
		return nil, nil
	case variant.TypeBool:
		return r.AsBool()
	case variant.TypeInt:
		return r.AsI64()
	case variant.TypeFloat:
		return r.AsF64()
	case variant.TypeString:
		return r.AsString()
	case variant.TypeArray:
		n, err := r.Len()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			elem, err := r.GetIndex(i)
			if err != nil {
				return nil, err
			}
			out[i], err = toJSONValue(elem)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case variant.TypeObject:
		out := map[string]any{}
		err := r.Fields(func(key string, value *variant.Reader) (bool, error) {
			v, err := toJSONValue(value)
			if err != nil {
				return false, err
			}
			out[key] = v
			return true, nil
		})
		return out, err
	default:
		return nil, fmt.Errorf("unrecognized variant type %v", typ)
	}
}
