package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

type VariantsCommand struct{}

func (c *VariantsCommand) Execute(args []string) error {
	t := newTable("Variant", "Image", "Encoding", "State", "Action", "Layout", "Splits")
	for _, name := range schema.Names() {
		v, err := schema.Lookup(name)
		if err != nil {
			return err
		}
		var splits []string
		for split, pattern := range v.Splits {
			splits = append(splits, split+"="+pattern)
		}
		sort.Strings(splits)
		t.Row(
			v.Name,
			fmt.Sprintf("%s %dx%d", v.ImageKey, v.ImageWidth, v.ImageHeight),
			string(v.ImageEncoding),
			fmt.Sprint(v.StateDim),
			fmt.Sprint(v.ActionDim),
			string(v.Layout),
			strings.Join(splits, "\n"),
		)
	}
	fmt.Println(t.Render())
	return nil
}
