package chunker

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// block is one structural unit of the cleaned markdown, carrying its own
// half-open byte span into the source so every chunk built from blocks
// can trace back to exact offsets (spec §4.4's content.trim() ==
// cleaned_markdown[start:end].trim() invariant).
type block struct {
	kind        string // "heading" | "code" | "table" | "paragraph" | "list"
	start, end  int
	headingPath []string
	level       int
}

var gmd = goldmark.New()

// parseBlocks walks goldmark's AST and emits one block per top-level
// node, carrying forward the heading path active at that point. This
// replaces the teacher's regex-based paragraph/code-fence scanner with a
// proper markdown parse, so fenced code and tables are never split
// mid-block by a naive blank-line split.
func parseBlocks(src []byte) []block {
	doc := gmd.Parser().Parse(text.NewReader(src))

	var blocks []block
	var headingStack []string

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Heading:
				lines := node.Lines()
				if lines.Len() == 0 {
					continue
				}
				start := lines.At(0).Start
				end := lines.At(lines.Len() - 1).Stop
				title := string(node.Text(src))
				if node.Level-1 < len(headingStack) {
					headingStack = headingStack[:node.Level-1]
				}
				headingStack = append(headingStack, title)
				blocks = append(blocks, block{
					kind:        "heading",
					start:       start,
					end:         end,
					headingPath: append([]string(nil), headingStack...),
					level:       node.Level,
				})
			case *ast.FencedCodeBlock:
				start, end := nodeSpan(node, src)
				blocks = append(blocks, block{kind: "code", start: start, end: end, headingPath: currentPath(headingStack)})
			case *ast.CodeBlock:
				start, end := nodeSpan(node, src)
				blocks = append(blocks, block{kind: "code", start: start, end: end, headingPath: currentPath(headingStack)})
			case *ast.List:
				start, end := nodeSpan(node, src)
				blocks = append(blocks, block{kind: "list", start: start, end: end, headingPath: currentPath(headingStack)})
			case *ast.Paragraph:
				lines := node.Lines()
				if lines.Len() == 0 {
					continue
				}
				start := lines.At(0).Start
				end := lines.At(lines.Len() - 1).Stop
				blocks = append(blocks, block{kind: "paragraph", start: start, end: end, headingPath: currentPath(headingStack)})
			default:
				// Blockquotes and other containers: recurse so their
				// children still become blocks instead of being dropped.
				walk(c)
			}
		}
	}
	walk(doc)
	return blocks
}

func currentPath(stack []string) []string {
	return append([]string(nil), stack...)
}

// nodeSpan computes a node's byte span by scanning its raw-text lines;
// used for node kinds that don't carry pre-joined Lines() the way
// Heading/Paragraph do.
func nodeSpan(n ast.Node, src []byte) (int, int) {
	var start, end int
	first := true
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if lines, ok := linesOf(c); ok && lines.Len() > 0 {
			if first {
				start = lines.At(0).Start
				first = false
			}
			end = lines.At(lines.Len() - 1).Stop
		}
		return ast.WalkContinue, nil
	})
	if first {
		return 0, 0
	}
	return start, end
}

func linesOf(n ast.Node) (*text.Segments, bool) {
	switch v := n.(type) {
	case *ast.FencedCodeBlock:
		return v.Lines(), true
	case *ast.CodeBlock:
		return v.Lines(), true
	case *ast.Paragraph:
		return v.Lines(), true
	case *ast.TextBlock:
		return v.Lines(), true
	default:
		return nil, false
	}
}
