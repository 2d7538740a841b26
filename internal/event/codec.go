package event

import (
	"bytes"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-pipeline/internal/domain/customer"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/domain/product"
)

// Payload encodings carried next to the payload on the bus.
const (
	EncodingJSON     = "json"
	EncodingGzipJSON = "gzip+json"
)

// DefaultCompressAbove is the payload size from which the codec gzips
// messages. Order confirmations with many products grow past it.
const DefaultCompressAbove = 16 << 10

// Message is implemented by every bus event.
type Message interface {
	Encode(e *jx.Encoder)
	Decode(d *jx.Decoder) error
}

// Envelope is an encoded message ready to be written to a topic.
type Envelope struct {
	Payload  []byte
	Encoding string
}

// Codec converts messages to and from envelopes.
type Codec struct {
	// CompressAbove is the payload size in bytes from which payloads are
	// gzipped. Zero disables compression.
	CompressAbove int
}

// Marshal encodes m, compressing the payload when it is large.
func (c Codec) Marshal(m Message) (Envelope, error) {
	raw := JSON(m)
	if c.CompressAbove <= 0 || len(raw) < c.CompressAbove {
		return Envelope{Payload: raw, Encoding: EncodingJSON}, nil
	}

	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return Envelope{}, errors.Wrap(err, "compress payload")
	}
	if err := zw.Close(); err != nil {
		return Envelope{}, errors.Wrap(err, "flush compressed payload")
	}
	return Envelope{Payload: buf.Bytes(), Encoding: EncodingGzipJSON}, nil
}

// JSON returns the uncompressed JSON form of m.
func JSON(m Message) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	m.Encode(e)
	return append([]byte(nil), e.Bytes()...)
}

// Unmarshal decodes env into m.
func (c Codec) Unmarshal(env Envelope, m Message) error {
	raw := env.Payload
	switch env.Encoding {
	case EncodingJSON, "":
	case EncodingGzipJSON:
		zr, err := pgzip.NewReader(bytes.NewReader(env.Payload))
		if err != nil {
			return errors.Wrap(err, "open compressed payload")
		}
		defer func() { _ = zr.Close() }()
		if raw, err = io.ReadAll(zr); err != nil {
			return errors.Wrap(err, "decompress payload")
		}
	default:
		return errors.Errorf("unsupported encoding %q", env.Encoding)
	}
	if err := m.Decode(jx.DecodeBytes(raw)); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return nil
}

// Encode writes the confirmation as a JSON object.
func (c *OrderConfirmation) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderReference")
	e.Str(c.OrderReference)
	e.FieldStart("totalAmount")
	encodeDecimal(e, c.TotalAmount)
	e.FieldStart("paymentMethod")
	e.Str(string(c.PaymentMethod))
	e.FieldStart("customer")
	encodeCustomer(e, c.Customer)
	e.FieldStart("products")
	e.ArrStart()
	for _, p := range c.Products {
		encodeProduct(e, p)
	}
	e.ArrEnd()
	e.ObjEnd()
}

// Decode reads the confirmation from a JSON object. Unknown fields are
// skipped.
func (c *OrderConfirmation) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderReference":
			c.OrderReference, err = d.Str()
		case "totalAmount":
			c.TotalAmount, err = decodeDecimal(d)
		case "paymentMethod":
			var s string
			s, err = d.Str()
			c.PaymentMethod = payment.Method(s)
		case "customer":
			err = decodeCustomer(d, &c.Customer)
		case "products":
			c.Products = c.Products[:0]
			err = d.Arr(func(d *jx.Decoder) error {
				var p product.PurchasedProduct
				if err := decodeProduct(d, &p); err != nil {
					return err
				}
				c.Products = append(c.Products, p)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Encode writes the confirmation as a JSON object.
func (c *PaymentConfirmation) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderReference")
	e.Str(c.OrderReference)
	e.FieldStart("amount")
	encodeDecimal(e, c.Amount)
	e.FieldStart("paymentMethod")
	e.Str(string(c.PaymentMethod))
	e.FieldStart("customerFirstname")
	e.Str(c.CustomerFirstname)
	e.FieldStart("customerLastname")
	e.Str(c.CustomerLastname)
	e.FieldStart("customerEmail")
	e.Str(c.CustomerEmail)
	e.ObjEnd()
}

// Decode reads the confirmation from a JSON object. Unknown fields are
// skipped.
func (c *PaymentConfirmation) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderReference":
			c.OrderReference, err = d.Str()
		case "amount":
			c.Amount, err = decodeDecimal(d)
		case "paymentMethod":
			var s string
			s, err = d.Str()
			c.PaymentMethod = payment.Method(s)
		case "customerFirstname":
			c.CustomerFirstname, err = d.Str()
		case "customerLastname":
			c.CustomerLastname, err = d.Str()
		case "customerEmail":
			c.CustomerEmail, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func encodeCustomer(e *jx.Encoder, c customer.Customer) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("firstname")
	e.Str(c.Firstname)
	e.FieldStart("lastname")
	e.Str(c.Lastname)
	e.FieldStart("email")
	e.Str(c.Email)
	e.FieldStart("address")
	e.ObjStart()
	e.FieldStart("street")
	e.Str(c.Address.Street)
	e.FieldStart("houseNumber")
	e.Str(c.Address.HouseNumber)
	e.FieldStart("zipCode")
	e.Str(c.Address.ZipCode)
	e.ObjEnd()
	e.ObjEnd()
}

func decodeCustomer(d *jx.Decoder, c *customer.Customer) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "firstname":
			c.Firstname, err = d.Str()
		case "lastname":
			c.Lastname, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		case "address":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "street":
					c.Address.Street, err = d.Str()
				case "houseNumber":
					c.Address.HouseNumber, err = d.Str()
				case "zipCode":
					c.Address.ZipCode, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
}

func encodeProduct(e *jx.Encoder, p product.PurchasedProduct) {
	e.ObjStart()
	e.FieldStart("productId")
	e.Int64(p.ProductID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	encodeDecimal(e, p.Price)
	e.FieldStart("quantity")
	e.Int(p.Quantity)
	e.ObjEnd()
}

func decodeProduct(d *jx.Decoder, p *product.PurchasedProduct) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			p.ProductID, err = d.Int64()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "quantity":
			p.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
}

// encodeDecimal writes v as a JSON number without going through float64.
func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %v for decimal", d.Next())
	}
}
