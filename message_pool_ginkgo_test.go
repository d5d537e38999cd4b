package nexus_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/nexuschat/nexus"
)

func TestMessagePoolSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MessagePool Suite")
}

var _ = Describe("MessagePool", func() {
	var msgp *MessagePool

	BeforeEach(func() {
		msgp = NewMessagePool(1)
	})

	Describe("gives a new message", func() {
		Context("when the pool is empty", func() {
			It("returns a newly allocated message", func() {
				msg := msgp.New()
				Expect(msg).ShouldNot(BeNil())
				Expect(msg.Kind).Should(Equal(Kind("")))
			})
		})

		Context("when the pool has a recycled message", func() {
			It("returns that message instead of allocating", func() {
				recycled := &Message{Kind: KindSendChat}
				msgp.Recycle(recycled)
				msg := msgp.New()
				Expect(msg).Should(BeIdenticalTo(recycled))
				Expect(msg.Kind).Should(Equal(Kind("")))
			})
		})
	})

	Describe("recycling a message", func() {
		It("scrubs prior state before it can be handed out again", func() {
			msg1 := &Message{
				Kind:   KindSendChat,
				Fields: map[string]any{"channel": "#nexus", "body": "hi"},
			}

			msgp.Recycle(msg1)
			msg2 := msgp.New()
			Expect(msg2.Kind).Should(Equal(Kind("")))
			Expect(msg2.Fields).Should(BeNil())
		})

		Context("when the pool is already full", func() {
			It("drops the extra message without blocking", func() {
				msgp.Recycle(&Message{Kind: KindSendChat})
				Expect(func() { msgp.Recycle(&Message{Kind: KindLogin}) }).ShouldNot(Panic())
			})
		})
	})
})
