package axl

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"ucm-sync/internal/models"
)

const (
	soapEnvNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	axlNamespaceBase = "http://www.cisco.com/AXL/API/"
)

// requestBuilder writes one AXL request envelope. Element names come from
// the entity registry; values are always escaped.
type requestBuilder struct {
	buf bytes.Buffer
}

func newRequest(apiVersion, operation string) *requestBuilder {
	b := &requestBuilder{}
	fmt.Fprintf(&b.buf,
		`<soapenv:Envelope xmlns:soapenv="%s" xmlns:ns="%s%s"><soapenv:Header/><soapenv:Body><ns:%s>`,
		soapEnvNamespace, axlNamespaceBase, apiVersion, operation)
	return b
}

func (b *requestBuilder) open(name string) *requestBuilder {
	b.buf.WriteString("<" + name + ">")
	return b
}

func (b *requestBuilder) close(name string) *requestBuilder {
	b.buf.WriteString("</" + name + ">")
	return b
}

func (b *requestBuilder) empty(name string) *requestBuilder {
	b.buf.WriteString("<" + name + "/>")
	return b
}

func (b *requestBuilder) element(name, value string) *requestBuilder {
	b.open(name)
	// bytes.Buffer writes never fail
	_ = xml.EscapeText(&b.buf, []byte(value))
	return b.close(name)
}

func (b *requestBuilder) finish(operation string) []byte {
	b.buf.WriteString("</ns:" + operation + "></soapenv:Body></soapenv:Envelope>")
	return b.buf.Bytes()
}

// xmlNode is a namespace-free element tree of a SOAP response.
type xmlNode struct {
	name     string
	attrs    map[string]string
	children []*xmlNode
	text     strings.Builder
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func parseXML(r io.Reader) (*xmlNode, error) {
	decoder := xml.NewDecoder(r)
	root := &xmlNode{}
	stack := []*xmlNode{root}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
		}

		current := stack[len(stack)-1]
		switch t := token.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				if node.attrs == nil {
					node.attrs = make(map[string]string)
				}
				node.attrs[attr.Name.Local] = attr.Value
			}
			current.children = append(current.children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: unbalanced element %s", ErrUnexpectedReply, t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			current.text.Write(t)
		}
	}
	return root, nil
}

// soapBody returns the first element inside Envelope/Body.
func soapBody(root *xmlNode) (*xmlNode, error) {
	envelope := root.child("Envelope")
	if envelope == nil {
		return nil, fmt.Errorf("%w: missing envelope", ErrUnexpectedReply)
	}
	body := envelope.child("Body")
	if body == nil || len(body.children) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedReply)
	}
	return body.children[0], nil
}

func faultError(fault *xmlNode) error {
	message := "unknown fault"
	if s := fault.child("faultstring"); s != nil {
		message = strings.TrimSpace(s.text.String())
	}
	return fmt.Errorf("%w: %s", ErrFault, message)
}

// toValue converts an element into a RawRecord value. Leaf elements become
// strings; attributes and children become map keys and repeated children
// become slices.
func toValue(n *xmlNode) interface{} {
	text := strings.TrimSpace(n.text.String())
	if len(n.children) == 0 && len(n.attrs) == 0 {
		return text
	}
	return toRecord(n)
}

func toRecord(n *xmlNode) models.RawRecord {
	record := make(models.RawRecord, len(n.attrs)+len(n.children))
	for key, value := range n.attrs {
		record[key] = value
	}
	if len(n.children) == 0 {
		record["_"] = strings.TrimSpace(n.text.String())
		return record
	}
	for _, c := range n.children {
		value := toValue(c)
		existing, ok := record[c.name]
		if !ok {
			record[c.name] = value
			continue
		}
		if list, isList := existing.([]interface{}); isList {
			record[c.name] = append(list, value)
		} else {
			record[c.name] = []interface{}{existing, value}
		}
	}
	return record
}

// returnedRecords extracts the records named tag from the <return> element of
// a response.
func returnedRecords(response *xmlNode, tag string) []models.RawRecord {
	ret := response.child("return")
	if ret == nil {
		return nil
	}
	var records []models.RawRecord
	for _, c := range ret.children {
		if c.name == tag {
			records = append(records, toRecord(c))
		}
	}
	return records
}
