package masking_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/masking"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMasking(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Masking Suite")
}

var _ = Describe("Mask", func() {
	Context("with an empty input", func() {
		It("returns empty for every mode", func() {
			for _, m := range masking.Modes {
				Expect(masking.Mask("", m)).To(BeEmpty())
			}
		})

		It("treats a nil pointer as empty", func() {
			Expect(masking.MaskPtr(nil, masking.Full)).To(BeEmpty())
		})
	})

	Context("in full mode", func() {
		It("returns the input unchanged", func() {
			Expect(masking.Mask("+15551234567", masking.Full)).To(Equal("+15551234567"))
		})
	})

	Context("in hidden mode", func() {
		It("returns ten bullets regardless of input length", func() {
			for _, phone := range []string{"1", "12345", "+15551234567", strings.Repeat("9", 40)} {
				out := masking.Mask(phone, masking.Hidden)
				Expect(out).To(Equal("••••••••••"))
				Expect(utf8.RuneCountInString(out)).To(Equal(10))
			}
		})
	})

	Context("in masked mode", func() {
		It("masks the example number keeping three leading and two trailing characters", func() {
			Expect(masking.Mask("+15551234567", masking.Masked)).To(Equal("+15•••••••67"))
		})

		It("fully masks inputs of five characters or fewer", func() {
			Expect(masking.Mask("1", masking.Masked)).To(Equal("•"))
			Expect(masking.Mask("12345", masking.Masked)).To(Equal("•••••"))
		})

		It("reveals no character of short inputs", func() {
			for _, phone := range []string{"7", "42", "555", "+1-2", "98765"} {
				out := masking.Mask(phone, masking.Masked)
				Expect(strings.ContainsAny(out, phone)).To(BeFalse())
			}
		})

		It("shows prefix and suffix from six characters on", func() {
			Expect(masking.Mask("123456", masking.Masked)).To(Equal("123•56"))
		})

		It("preserves the input length in runes", func() {
			for _, phone := range []string{"12", "123456", "+15551234567", "+٩٧١٥٠١٢٣٤٥٦٧"} {
				out := masking.Mask(phone, masking.Masked)
				Expect(utf8.RuneCountInString(out)).To(Equal(utf8.RuneCountInString(phone)))
				Expect(utf8.ValidString(out)).To(BeTrue())
			}
		})

		It("masks on unknown modes", func() {
			Expect(masking.Mask("+15551234567", masking.Mode("bogus"))).To(Equal("+15•••••••67"))
		})
	})
})

var _ = Describe("ParseMode", func() {
	It("accepts the three modes case-insensitively", func() {
		m, err := masking.ParseMode(" Hidden ")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(masking.Hidden))
	})

	It("rejects anything else", func() {
		_, err := masking.ParseMode("partial")
		Expect(errors.Is(err, internal.ErrInvalidVisibilityMode)).To(BeTrue())
	})
})
