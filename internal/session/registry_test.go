package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frahmantamala/crm-authz/internal/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

var _ = Describe("Registry", func() {
	var (
		ctx     context.Context
		reg     *session.Registry[string]
		opens   atomic.Int32
		evicted []session.Key
	)

	open := func(v string) session.OpenFunc[string] {
		return func(context.Context) (string, error) {
			opens.Add(1)
			return v, nil
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		opens.Store(0)
		evicted = nil
		reg = session.NewRegistry[string](2, time.Minute, func(k session.Key, _ string) {
			evicted = append(evicted, k)
		})
	})

	It("opens once and then serves from cache", func() {
		key := session.Key{UserID: "u1", OrganizationID: "o1"}
		v, err := reg.GetOrOpen(ctx, key, open("a"))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("a"))

		v, err = reg.GetOrOpen(ctx, key, open("b"))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("a"))
		Expect(opens.Load()).To(Equal(int32(1)))
	})

	It("does not cache failed opens", func() {
		key := session.Key{UserID: "u1", OrganizationID: "o1"}
		_, err := reg.GetOrOpen(ctx, key, func(context.Context) (string, error) { return "", errors.New("down") })
		Expect(err).To(HaveOccurred())
		Expect(reg.Len()).To(BeZero())
	})

	It("keeps users of different organizations apart", func() {
		a, _ := reg.GetOrOpen(ctx, session.Key{UserID: "u1", OrganizationID: "o1"}, open("o1"))
		b, _ := reg.GetOrOpen(ctx, session.Key{UserID: "u1", OrganizationID: "o2"}, open("o2"))
		Expect(a).NotTo(Equal(b))
	})

	It("evicts the least recently used entry past its size", func() {
		k1 := session.Key{UserID: "u1", OrganizationID: "o1"}
		reg.GetOrOpen(ctx, k1, open("1"))
		reg.GetOrOpen(ctx, session.Key{UserID: "u2", OrganizationID: "o1"}, open("2"))
		reg.GetOrOpen(ctx, session.Key{UserID: "u3", OrganizationID: "o1"}, open("3"))

		Expect(reg.Len()).To(Equal(2))
		Expect(evicted).To(ContainElement(k1))
	})

	It("invalidates an organization except the kept key", func() {
		keep := session.Key{UserID: "u1", OrganizationID: "o1"}
		reg.GetOrOpen(ctx, keep, open("1"))
		reg.GetOrOpen(ctx, session.Key{UserID: "u2", OrganizationID: "o1"}, open("2"))

		Expect(reg.InvalidateOrganization("o1", keep)).To(Equal(1))
		_, ok := reg.Get(keep)
		Expect(ok).To(BeTrue())
		Expect(reg.Len()).To(Equal(1))
	})
})
