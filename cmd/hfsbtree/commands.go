package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alexhholmes/hfsbtree"
)

func (a *app) formatCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "format <file>",
		Short: "Create an empty tree file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				if !force {
					return errors.Errorf("%s already exists, use --force to overwrite", path)
				}
				if err := os.Truncate(path, 0); err != nil {
					return err
				}
			}
			tree, err := a.open(path, true)
			if err != nil {
				return err
			}
			h := tree.Header()
			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: node size %d, max key length %d, %d nodes\n",
				path, h.NodeSize, h.MaxKeyLen, h.NodeCount)
			return tree.Close()
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func (a *app) putCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "put <file> <key> <value>",
		Short: "Insert a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.parseKey(args[1])
			if err != nil {
				return err
			}
			value, err := a.parseValue(args[2])
			if err != nil {
				return err
			}
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				if replace {
					return tree.Replace(key, value)
				}
				return tree.Insert(key, value)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace an existing record")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file> <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.parseKey(args[1])
			if err != nil {
				return err
			}
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				value, err := tree.Get(key)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.formatValue(value))
				return nil
			})
		},
	}
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <file> <key>",
		Short: "Remove a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.parseKey(args[1])
			if err != nil {
				return err
			}
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				return tree.Delete(key)
			})
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scan <file> [start]",
		Short: "Print records in key order",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start []byte
			if len(args) == 2 {
				var err error
				if start, err = a.parseKey(args[1]); err != nil {
					return err
				}
			}
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				out := cmd.OutOrStdout()
				// A nil start sorts below every key.
				return tree.Scan(start, limit, func(k, v []byte) error {
					_, err := fmt.Fprintf(out, "%s\t%s\n", a.formatKey(k), a.formatValue(v))
					return err
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many records (0 for all)")
	return cmd
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>",
		Short: "Print the header record and cache statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				st := tree.Stats()
				h := st.Header
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "depth:       %d\n", h.Depth)
				fmt.Fprintf(out, "root:        %d\n", h.Root)
				fmt.Fprintf(out, "records:     %d\n", h.LeafCount)
				fmt.Fprintf(out, "leaves:      %d..%d\n", h.LeafHead, h.LeafTail)
				fmt.Fprintf(out, "node size:   %d\n", h.NodeSize)
				fmt.Fprintf(out, "max key len: %d\n", h.MaxKeyLen)
				fmt.Fprintf(out, "nodes:       %d (%d free)\n", h.NodeCount, h.FreeNodes)
				fmt.Fprintf(out, "clump size:  %d\n", h.ClumpSize)
				fmt.Fprintf(out, "type:        btree %#x, keys %#x\n", h.BTreeType, h.KeyType)
				fmt.Fprintf(out, "attributes:  %s\n", attributes(h.Attributes))
				fmt.Fprintf(out, "cache:       %d hits, %d misses, %d cached\n", st.Cache.Hits, st.Cache.Misses, st.Cache.Cached)
				return nil
			})
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Verify the tree structure and allocation map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTree(args[0], func(tree *hfsbtree.BTree) error {
				st, err := tree.Check()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d levels, %d nodes (%d leaves), %d records, %d map nodes, %d nodes in use\n",
					st.Levels, st.Nodes, st.Leaves, st.Records, st.MapNodes, st.UsedNodes)
				return nil
			})
		},
	}
}

func (a *app) withTree(path string, fn func(tree *hfsbtree.BTree) error) error {
	tree, err := a.open(path, false)
	if err != nil {
		return err
	}
	err = fn(tree)
	if cerr := tree.Close(); err == nil {
		err = cerr
	}
	return err
}

func attributes(attr uint32) string {
	var names []string
	if attr&hfsbtree.AttrBadClose != 0 {
		names = append(names, "bad-close")
	}
	if attr&hfsbtree.AttrBigKeys != 0 {
		names = append(names, "big-keys")
	}
	if attr&hfsbtree.AttrVariableIndexKeys != 0 {
		names = append(names, "variable-index-keys")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// parseKey reads a key argument. Catalog keys are written parent/name and
// extent keys file/fork/start with fork "data" or "rsrc"; --hex takes raw
// key bodies.
func (a *app) parseKey(s string) ([]byte, error) {
	if a.hex {
		return hex.DecodeString(s)
	}
	switch a.cfg.Comparator {
	case "catalog":
		parent, name, ok := strings.Cut(s, "/")
		if !ok {
			return nil, errors.Errorf("catalog key %q is not parent/name", s)
		}
		id, err := strconv.ParseUint(parent, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog parent id %q", parent)
		}
		return hfsbtree.NewCatalogKey(uint32(id), name).Bytes(), nil
	case "extent":
		parts := strings.Split(s, "/")
		if len(parts) != 3 {
			return nil, errors.Errorf("extent key %q is not file/fork/start", s)
		}
		file, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "extent file id %q", parts[0])
		}
		var fork uint8
		switch parts[1] {
		case "data":
			fork = hfsbtree.ForkData
		case "rsrc":
			fork = hfsbtree.ForkResource
		default:
			return nil, errors.Errorf("unknown fork %q", parts[1])
		}
		start, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "extent start block %q", parts[2])
		}
		return hfsbtree.ExtentKey{ForkType: fork, FileID: uint32(file), StartBlock: uint32(start)}.Bytes(), nil
	}
	return []byte(s), nil
}

func (a *app) parseValue(s string) ([]byte, error) {
	if a.hex {
		return hex.DecodeString(s)
	}
	return []byte(s), nil
}

func (a *app) formatKey(k []byte) string {
	if a.hex {
		return hex.EncodeToString(k)
	}
	switch a.cfg.Comparator {
	case "catalog":
		if ck, err := hfsbtree.ParseCatalogKey(k); err == nil {
			return ck.String()
		}
	case "extent":
		if ek, err := hfsbtree.ParseExtentKey(k); err == nil {
			return ek.String()
		}
	}
	return strconv.Quote(string(k))
}

func (a *app) formatValue(v []byte) string {
	if a.hex {
		return hex.EncodeToString(v)
	}
	return strconv.Quote(string(v))
}
